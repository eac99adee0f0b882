package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/allankoechke/mantis-sub000/core/schema"
)

func TestPresets(t *testing.T) {
	assert.NoError(t, Preset("@email", "jane@example.com"))
	assert.Error(t, Preset("@email", "not-an-email"))

	assert.NoError(t, Preset("@password", "secret123"))
	assert.Error(t, Preset("@password", "short1"))
	assert.Error(t, Preset("@password", "onlyletters"))
	assert.Error(t, Preset("@password", "12345678"))

	assert.NoError(t, Preset("@url", "https://example.com/x"))
	assert.Error(t, Preset("@url", "example.com"))

	assert.NoError(t, Preset("@slug", "my-first-post"))
	assert.Error(t, Preset("@slug", "My Post"))

	assert.Error(t, Preset("@nope", "anything"))
}

func TestPasswordMessage(t *testing.T) {
	err := Preset("@password", "short")
	if err == nil {
		t.Fatal("expected error")
	}
	assert.Equal(t, "password should be at least 8 chars long", err.Error())
}

func TestFieldLengthConstraints(t *testing.T) {
	min := 3.0
	max := 10.0
	f := schema.Field{
		Name: "title", Type: "string", Required: true,
		Constraints: schema.Constraints{MinValue: &min, MaxValue: &max},
	}

	err := Field(f, "ab")
	if err == nil {
		t.Fatal("expected error")
	}
	assert.Equal(t, "title should be at least 3 chars long", err.Error())

	err = Field(f, strings.Repeat("x", 11))
	if err == nil {
		t.Fatal("expected error")
	}
	assert.Equal(t, "title should be at most 10 chars long", err.Error())

	assert.NoError(t, Field(f, "hello"))
	assert.Error(t, Field(f, "   "), "blank required string must fail")
	assert.Error(t, Field(f, 42), "wrong type must fail")
}

func TestFieldNumericConstraints(t *testing.T) {
	min := 1.0
	max := 5.0
	f := schema.Field{
		Name: "rating", Type: "int32",
		Constraints: schema.Constraints{MinValue: &min, MaxValue: &max},
	}
	assert.NoError(t, Field(f, 3.0))
	assert.Error(t, Field(f, 0.0))
	assert.Error(t, Field(f, 6.0))
	assert.Error(t, Field(f, "three"))
}

func TestRecordCreateAndUpdateSemantics(t *testing.T) {
	s := schema.New("posts", schema.Base)
	s.Fields = append(s.Fields,
		schema.Field{Name: "title", Type: "string", Required: true},
		schema.Field{Name: "views", Type: "int64"},
	)

	// create: required fields must be present
	err := Record(s, map[string]interface{}{"views": 1.0}, false)
	if err == nil {
		t.Fatal("missing required field must fail on create")
	}
	assert.Equal(t, "title is required", err.Error())

	// update: missing fields are fine, present ones are validated
	assert.NoError(t, Record(s, map[string]interface{}{"views": 2.0}, true))
	assert.Error(t, Record(s, map[string]interface{}{"title": 5}, true))
}

func TestSchemaJSON(t *testing.T) {
	good := `{"name": "posts", "type": "base", "fields": [{"name": "title", "type": "string"}]}`
	assert.NoError(t, SchemaJSON([]byte(good)))

	bad := []string{
		`{"type": "base"}`,
		`{"name": "posts", "type": "table"}`,
		`{"name": "posts", "fields": [{"name": "x"}]}`,
		`{"name": "posts", "fields": [{"name": "x", "type": "varchar"}]}`,
	}
	for _, doc := range bad {
		if err := SchemaJSON([]byte(doc)); err == nil {
			t.Fatal("accepted invalid document:", doc)
		}
	}
}
