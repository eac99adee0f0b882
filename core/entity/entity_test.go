package entity_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/allankoechke/mantis-sub000/core/blobs"
	"github.com/allankoechke/mantis-sub000/core/csql"
	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/schema"
)

func testDB(t *testing.T) *csql.DB {
	t.Helper()
	db, err := csql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func materialize(t *testing.T, db *csql.DB, s *schema.Schema, store blobs.Store) *entity.Entity {
	t.Helper()
	ddl, err := s.CreateDDL(db.Dialect)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = db.Exec(ddl); err != nil {
		t.Fatal(err)
	}
	return entity.New(db, s, store)
}

func postsSchema() *schema.Schema {
	min := 3.0
	s := schema.New("posts", schema.Base)
	s.Fields = append(s.Fields,
		schema.Field{Name: "title", Type: "string", Required: true,
			Constraints: schema.Constraints{MinValue: &min}},
		schema.Field{Name: "views", Type: "int64"},
		schema.Field{Name: "published", Type: "bool"},
		schema.Field{Name: "tags", Type: "json"},
		schema.Field{Name: "slug", Type: "string", Unique: true,
			Constraints: schema.Constraints{DefaultValue: "untitled"}},
	)
	return s
}

func TestCreateAndRead(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()

	record, err := e.Create(ctx, entity.Record{
		"title":     "First post",
		"views":     7.0,
		"published": true,
		"tags":      []interface{}{"go", "sql"},
		"slug":      "first-post",
		"bogus":     "dropped silently",
	})
	if err != nil {
		t.Fatal(err)
	}

	id, _ := record["id"].(string)
	if id == "" {
		t.Fatal("no id was generated")
	}
	assert.Equal(t, "First post", record["title"])
	assert.Equal(t, int64(7), record["views"])
	assert.Equal(t, true, record["published"])
	assert.Equal(t, []interface{}{"go", "sql"}, record["tags"])
	assert.NotEmpty(t, record["created"])
	assert.NotEmpty(t, record["updated"])
	if _, ok := record["bogus"]; ok {
		t.Fatal("unknown keys must be dropped")
	}

	got, err := e.Read(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, record["title"], got["title"])
}

func TestCreateAppliesDefaults(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)

	record, err := e.Create(context.Background(), entity.Record{"title": "Untitled post"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "untitled", record["slug"])
}

func TestCreateValidation(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()

	_, err := e.Create(ctx, entity.Record{"views": 1.0})
	if !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("missing required field must be invalid, got:", err)
	}

	_, err = e.Create(ctx, entity.Record{"title": "ab"})
	if !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("short title must be invalid, got:", err)
	}
	if !strings.Contains(err.Error(), "title should be at least 3 chars long") {
		t.Fatal("unexpected message:", err)
	}
}

func TestUniqueConflict(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()

	if _, err := e.Create(ctx, entity.Record{"title": "one", "slug": "same"}); err != nil {
		t.Fatal(err)
	}
	_, err := e.Create(ctx, entity.Record{"title": "two", "slug": "same"})
	if !errors.Is(err, entity.ErrConflict) {
		t.Fatal("expected conflict, got:", err)
	}
}

func TestListPagination(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Create(ctx, entity.Record{
			"title": "post number " + string(rune('a'+i)),
			"slug":  "slug-" + string(rune('a'+i)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	records, pagination, err := e.List(ctx, entity.ListOptions{PageIndex: 1, PerPage: 2, CountPages: true})
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, records, 2)
	assert.Equal(t, 5, pagination.RecordCount)
	assert.Equal(t, 3, pagination.PageCount)

	records, pagination, err = e.List(ctx, entity.ListOptions{PageIndex: 3, PerPage: 2})
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, records, 1)
	// without counting, the page count is unknown
	assert.Equal(t, -1, pagination.PageCount)

	if _, _, err = e.List(ctx, entity.ListOptions{PageIndex: 0, PerPage: 2}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("page_index 0 must be invalid")
	}
	if _, _, err = e.List(ctx, entity.ListOptions{PageIndex: 1, PerPage: 0}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("per_page 0 must be invalid")
	}
}

func TestUpdate(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()

	record, err := e.Create(ctx, entity.Record{"title": "before", "views": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	id := record["id"].(string)

	updated, err := e.Update(ctx, id, entity.Record{"views": 2.0})
	if err != nil {
		t.Fatal(err)
	}
	// partial update leaves other fields alone
	assert.Equal(t, "before", updated["title"])
	assert.Equal(t, int64(2), updated["views"])

	if _, err = e.Update(ctx, "missing", entity.Record{"views": 3.0}); !errors.Is(err, entity.ErrNotFound) {
		t.Fatal("update of a missing record must be not-found, got:", err)
	}
	if _, err = e.Update(ctx, id, entity.Record{"title": "x"}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("constraint violations must be invalid on update too")
	}
}

func TestRemove(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()

	record, err := e.Create(ctx, entity.Record{"title": "doomed"})
	if err != nil {
		t.Fatal(err)
	}
	id := record["id"].(string)

	if err = e.Remove(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err = e.Read(ctx, id); !errors.Is(err, entity.ErrNotFound) {
		t.Fatal("record should be gone")
	}
	if err = e.Remove(ctx, id); !errors.Is(err, entity.ErrNotFound) {
		t.Fatal("removing twice must be not-found")
	}
}

func TestAuthEntity(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, schema.New("users", schema.Auth), nil)
	ctx := context.Background()

	record, err := e.Create(ctx, entity.Record{
		"email":    "jane@example.com",
		"password": "secret123",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := record["password"]; ok {
		t.Fatal("password must never be returned")
	}

	got, err := e.AuthWithPassword(ctx, "jane@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, record["id"], got["id"])
	if _, ok := got["password"]; ok {
		t.Fatal("password must never be returned")
	}

	if _, err = e.AuthWithPassword(ctx, "jane@example.com", "wrong"); err == nil {
		t.Fatal("wrong password must fail")
	}
	if _, err = e.AuthWithPassword(ctx, "nobody@example.com", "secret123"); err == nil {
		t.Fatal("unknown email must fail")
	}

	// weak passwords are rejected by the preset
	_, err = e.Create(ctx, entity.Record{"email": "joe@example.com", "password": "short"})
	if !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("weak password must be invalid, got:", err)
	}
}

func TestFileLifecycle(t *testing.T) {
	db := testDB(t)
	store, err := blobs.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := schema.New("docs", schema.Base)
	s.Fields = append(s.Fields,
		schema.Field{Name: "title", Type: "string"},
		schema.Field{Name: "cover", Type: "file"},
		schema.Field{Name: "attachments", Type: "files"},
	)
	e := materialize(t, db, s, store)
	ctx := context.Background()

	for _, name := range []string{"old.png", "new.png", "a.txt", "b.txt"} {
		if err = store.Put("docs", name, strings.NewReader(name)); err != nil {
			t.Fatal(err)
		}
	}

	record, err := e.Create(ctx, entity.Record{
		"title":       "doc",
		"cover":       "old.png",
		"attachments": []interface{}{"a.txt", "b.txt"},
	})
	if err != nil {
		t.Fatal(err)
	}
	id := record["id"].(string)

	// replacing the cover deletes the old file after commit
	if _, err = e.Update(ctx, id, entity.Record{"cover": "new.png"}); err != nil {
		t.Fatal(err)
	}
	if _, err = store.Get("docs", "old.png"); !errors.Is(err, blobs.ErrNotFound) {
		t.Fatal("replaced file should be deleted")
	}
	if _, err = store.Get("docs", "new.png"); err != nil {
		t.Fatal("current file must remain:", err)
	}

	// shrinking the attachments list deletes the dropped file
	if _, err = e.Update(ctx, id, entity.Record{"attachments": []interface{}{"a.txt"}}); err != nil {
		t.Fatal(err)
	}
	if _, err = store.Get("docs", "b.txt"); !errors.Is(err, blobs.ErrNotFound) {
		t.Fatal("dropped attachment should be deleted")
	}

	// deleting the record deletes all referenced files
	if err = e.Remove(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err = store.Get("docs", "new.png"); !errors.Is(err, blobs.ErrNotFound) {
		t.Fatal("cover should be deleted with the record")
	}
	if _, err = store.Get("docs", "a.txt"); !errors.Is(err, blobs.ErrNotFound) {
		t.Fatal("attachment should be deleted with the record")
	}
}

func TestViewIsReadOnly(t *testing.T) {
	db := testDB(t)
	base := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()
	if _, err := base.Create(ctx, entity.Record{"title": "visible"}); err != nil {
		t.Fatal(err)
	}

	v := schema.New("recent_posts", schema.View)
	v.ViewQuery = `SELECT "id", "created", "updated" FROM "posts"`
	view := materialize(t, db, v, nil)

	records, _, err := view.List(ctx, entity.ListOptions{PageIndex: 1, PerPage: 10})
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, records, 1)

	if _, err = view.Create(ctx, entity.Record{}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("views must reject create")
	}
	if _, err = view.Update(ctx, "x", entity.Record{}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("views must reject update")
	}
	if err = view.Remove(ctx, "x"); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("views must reject delete")
	}
}

func TestQueryFromCols(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, schema.New("users", schema.Auth), nil)
	ctx := context.Background()

	record, err := e.Create(ctx, entity.Record{"email": "jane@example.com", "password": "secret123"})
	if err != nil {
		t.Fatal(err)
	}

	byEmail, err := e.QueryFromCols(ctx, "jane@example.com", []string{"id", "email"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, record["id"], byEmail["id"])

	byID, err := e.QueryFromCols(ctx, record["id"].(string), []string{"id", "email"})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, record["id"], byID["id"])

	if _, err = e.QueryFromCols(ctx, "x", []string{"nope"}); !errors.Is(err, entity.ErrInvalidArgument) {
		t.Fatal("unknown column must be invalid")
	}
	if _, err = e.QueryFromCols(ctx, "no-match", []string{"id", "email"}); !errors.Is(err, entity.ErrNotFound) {
		t.Fatal("no match must be not-found")
	}
}

func TestListPagesStayDisjointWithinOneSecond(t *testing.T) {
	db := testDB(t)
	e := materialize(t, db, postsSchema(), nil)
	ctx := context.Background()

	// all records land within the same second, so the created column
	// alone cannot order them
	created := map[string]bool{}
	for i := 0; i < 5; i++ {
		record, err := e.Create(ctx, entity.Record{
			"title": fmt.Sprintf("post %d", i),
			"slug":  fmt.Sprintf("post-%d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
		created[record["id"].(string)] = true
	}

	seen := map[string]bool{}
	for page := 1; page <= 3; page++ {
		records, _, err := e.List(ctx, entity.ListOptions{PageIndex: page, PerPage: 2})
		if err != nil {
			t.Fatal(err)
		}
		for _, record := range records {
			id := record["id"].(string)
			if seen[id] {
				t.Fatal("record appeared on two pages:", id)
			}
			seen[id] = true
		}
	}
	assert.Equal(t, len(created), len(seen))
}
