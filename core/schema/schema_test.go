package schema

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestIDForIsStable(t *testing.T) {
	a := IDFor("posts")
	b := IDFor("posts")
	if a != b {
		t.Fatal("id derivation is not stable:", a, b)
	}
	if a == IDFor("users") {
		t.Fatal("different names produced the same id")
	}
	assert.Equal(t, "mt_", a[:3])
}

func TestNewSeedsSystemFields(t *testing.T) {
	s := New("posts", Base)
	for _, name := range []string{"id", "created", "updated"} {
		f, ok := s.Field(name)
		if !ok {
			t.Fatal("missing system field", name)
		}
		if !f.System {
			t.Fatal("field is not flagged system:", name)
		}
	}
	if _, ok := s.Field("email"); ok {
		t.Fatal("base entity should not carry auth fields")
	}

	users := New("users", Auth)
	email, ok := users.Field("email")
	if !ok {
		t.Fatal("auth entity is missing the email field")
	}
	assert.True(t, email.Unique)
	assert.Equal(t, "@email", email.Constraints.Validator)
	password, _ := users.Field("password")
	assert.Equal(t, "@password", password.Constraints.Validator)
}

func TestFromJSONMergesAndProtectsSystemFields(t *testing.T) {
	doc := `{
		"name": "posts",
		"type": "base",
		"fields": [
			{"name": "title", "type": "string", "required": true},
			{"name": "id", "type": "int64"}
		],
		"list_rule": "auth.type == 'user'"
	}`
	s, err := FromJSON([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}

	// the user redefinition of id must be dropped in favor of the system field
	id, _ := s.Field("id")
	assert.Equal(t, "string", id.Type)
	assert.True(t, id.PrimaryKey)

	assert.Equal(t, IDFor("posts"), s.ID)
	assert.Equal(t, "auth.type == 'user'", s.Rule(OperationList))
	if _, ok := s.Field("title"); !ok {
		t.Fatal("user field was lost in the merge")
	}
}

func TestFromJSONRejectsBadDocuments(t *testing.T) {
	cases := []string{
		`{"name": "2bad", "type": "base"}`,
		`{"name": "posts", "type": "nope"}`,
		`{"name": "posts", "type": "base", "fields": [{"name": "x", "type": "varchar"}]}`,
		`{"name": "posts", "type": "base", "fields": [{"name": "dup", "type": "string"}, {"name": "dup", "type": "string"}]}`,
		`{"name": "v", "type": "view"}`,
	}
	for _, doc := range cases {
		if _, err := FromJSON([]byte(doc)); err == nil {
			t.Fatal("accepted invalid document:", doc)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	s := New("articles", Base)
	s.Fields = append(s.Fields, Field{
		Name: "title", Type: "string", Required: true, OldName: "headline",
	})
	s.ListRule = "auth.id != ''"

	raw, err := s.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	// update hints must not survive serialization
	var doc map[string]interface{}
	if err = json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	parsed, err := FromJSON(raw)
	if err != nil {
		t.Fatal(err)
	}
	title, _ := parsed.Field("title")
	assert.Empty(t, title.OldName)
	assert.Equal(t, s.Name, parsed.Name)
	assert.Equal(t, s.ListRule, parsed.ListRule)
	assert.Equal(t, len(s.Fields), len(parsed.Fields))
}

func TestRenameRecomputesID(t *testing.T) {
	s := New("posts", Base)
	oldID := s.ID
	if err := s.Rename("articles"); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "articles", s.Name)
	assert.Equal(t, IDFor("articles"), s.ID)
	assert.NotEqual(t, oldID, s.ID)

	if err := s.Rename("9bad"); err == nil {
		t.Fatal("accepted invalid name")
	}
}

func TestFileFields(t *testing.T) {
	s := New("docs", Base)
	s.Fields = append(s.Fields,
		Field{Name: "cover", Type: "file"},
		Field{Name: "attachments", Type: "files"},
		Field{Name: "title", Type: "string"},
	)
	files := s.FileFields()
	assert.Len(t, files, 2)
}

func TestFromJSONHasAPIDefaultAndFieldFlags(t *testing.T) {
	s, err := FromJSON([]byte(`{
		"name": "posts",
		"type": "base",
		"fields": [{"name": "title", "type": "string", "system": true}]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	// an absent has_api means the API is on
	assert.True(t, s.HasAPI)
	// only the built-in fields may carry the system flag
	title, _ := s.Field("title")
	assert.False(t, title.System)

	s, err = FromJSON([]byte(`{"name": "posts", "type": "base", "has_api": false}`))
	if err != nil {
		t.Fatal(err)
	}
	assert.False(t, s.HasAPI)
}
