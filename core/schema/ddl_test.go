package schema

import (
	"strings"
	"testing"

	"github.com/allankoechke/mantis-sub000/core/csql"
)

func sqlite(t *testing.T) csql.Dialect {
	d, err := csql.DialectFor("sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestCreateDDL(t *testing.T) {
	s := New("posts", Base)
	s.Fields = append(s.Fields,
		Field{Name: "title", Type: "string", Required: true},
		Field{Name: "slug", Type: "string", Unique: true},
	)
	ddl, err := s.CreateDDL(sqlite(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "posts"`,
		`"id" TEXT PRIMARY KEY`,
		`"title" TEXT NOT NULL`,
		`UNIQUE`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("DDL misses %q:\n%s", want, ddl)
		}
	}
}

func TestCreateDDLForView(t *testing.T) {
	v := New("recent", View)
	v.ViewQuery = "SELECT id, created, updated FROM posts"
	ddl, err := v.CreateDDL(sqlite(t))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ddl, `CREATE VIEW "recent" AS SELECT`) {
		t.Fatal("unexpected view DDL:", ddl)
	}
	if !strings.HasPrefix(v.DropDDL(sqlite(t)), "DROP VIEW") {
		t.Fatal("view must drop as a view")
	}
}

func TestDiffDDLAddDropRename(t *testing.T) {
	old := New("posts", Base)
	old.Fields = append(old.Fields,
		Field{Name: "title", Type: "string"},
		Field{Name: "obsolete", Type: "string"},
	)

	updated := New("posts", Base)
	updated.Fields = append(updated.Fields,
		Field{Name: "headline", Type: "string", OldName: "title"},
		Field{Name: "body", Type: "string"},
	)

	statements, err := DiffDDL(old, updated, sqlite(t))
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(statements, "\n")
	for _, want := range []string{
		`RENAME COLUMN "title" TO "headline"`,
		`DROP COLUMN "obsolete"`,
		`ADD COLUMN "body"`,
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("diff misses %q:\n%s", want, joined)
		}
	}
}

func TestDiffDDLProtectsSystemFields(t *testing.T) {
	old := New("posts", Base)
	updated := *old
	updated.Fields = []Field{}
	for _, f := range old.Fields {
		if f.Name != "created" {
			updated.Fields = append(updated.Fields, f)
		}
	}
	if _, err := DiffDDL(old, &updated, sqlite(t)); err == nil {
		t.Fatal("removal of a system field must fail")
	}
}

func TestDiffDDLTypeChangeOnSqliteFails(t *testing.T) {
	old := New("posts", Base)
	old.Fields = append(old.Fields, Field{Name: "count", Type: "int32"})
	updated := New("posts", Base)
	updated.Fields = append(updated.Fields, Field{Name: "count", Type: "string"})

	// sqlite has no ALTER COLUMN TYPE
	if _, err := DiffDDL(old, updated, sqlite(t)); err == nil {
		t.Fatal("expected type change to fail on sqlite")
	}

	pg, err := csql.DialectFor("postgres")
	if err != nil {
		t.Fatal(err)
	}
	statements, err := DiffDDL(old, updated, pg)
	if err != nil {
		t.Fatal(err)
	}
	if len(statements) != 1 || !strings.Contains(statements[0], "ALTER") {
		t.Fatal("expected a single ALTER statement, got:", statements)
	}
}
