// Package validation enforces field constraints before records reach the
// database: named presets (@email, @password, ...), length and range
// checks, plus a JSON Schema gate for admin-supplied schema documents.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/xeipuuv/gojsonschema"

	"github.com/allankoechke/mantis-sub000/core/schema"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)
	urlPattern      = regexp.MustCompile(`^https?://[^\s]+$`)
	slugPattern     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	alphanumPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Preset validates a string value against a named preset.
func Preset(name, value string) error {
	switch name {
	case "@email":
		if !emailPattern.MatchString(value) {
			return fmt.Errorf("'%s' is not a valid email address", value)
		}
	case "@password":
		if err := password(value); err != nil {
			return err
		}
	case "@url":
		if !urlPattern.MatchString(value) {
			return fmt.Errorf("'%s' is not a valid url", value)
		}
	case "@slug":
		if !slugPattern.MatchString(value) {
			return fmt.Errorf("'%s' is not a valid slug", value)
		}
	case "@alphanum":
		if !alphanumPattern.MatchString(value) {
			return fmt.Errorf("'%s' is not alphanumeric", value)
		}
	default:
		return fmt.Errorf("unknown validator '%s'", name)
	}
	return nil
}

func password(value string) error {
	if len(value) < 8 {
		return fmt.Errorf("password should be at least 8 chars long")
	}
	var hasLetter, hasDigit bool
	for _, r := range value {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("password must contain at least one letter and one digit")
	}
	return nil
}

// Field validates one value against its field definition. For strings,
// min_value/max_value constrain the length; for numbers they constrain
// the range.
func Field(f schema.Field, value interface{}) error {
	if value == nil {
		if f.Required && !f.System {
			return fmt.Errorf("%s is required", f.Name)
		}
		return nil
	}

	switch f.Type {
	case "string", "xml", "file":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string", f.Name)
		}
		if f.Required && !f.System && strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", f.Name)
		}
		if f.Constraints.MinValue != nil && float64(len(s)) < *f.Constraints.MinValue {
			return fmt.Errorf("%s should be at least %d chars long", f.Name, int(*f.Constraints.MinValue))
		}
		if f.Constraints.MaxValue != nil && float64(len(s)) > *f.Constraints.MaxValue {
			return fmt.Errorf("%s should be at most %d chars long", f.Name, int(*f.Constraints.MaxValue))
		}
		if f.Constraints.Validator != "" {
			if err := Preset(f.Constraints.Validator, s); err != nil {
				return err
			}
		}
	case "double", "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64":
		n, ok := asNumber(value)
		if !ok {
			return fmt.Errorf("%s must be a number", f.Name)
		}
		if f.Constraints.MinValue != nil && n < *f.Constraints.MinValue {
			return fmt.Errorf("%s should be at least %v", f.Name, *f.Constraints.MinValue)
		}
		if f.Constraints.MaxValue != nil && n > *f.Constraints.MaxValue {
			return fmt.Errorf("%s should be at most %v", f.Name, *f.Constraints.MaxValue)
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s must be a boolean", f.Name)
		}
	case "files":
		if _, ok := value.([]interface{}); !ok {
			if _, ok := value.([]string); !ok {
				return fmt.Errorf("%s must be an array of file names", f.Name)
			}
		}
	}
	return nil
}

func asNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// Record validates a record against a schema. When partial is true,
// missing fields are skipped (update semantics); otherwise required
// fields must be present (create semantics).
func Record(s *schema.Schema, record map[string]interface{}, partial bool) error {
	for _, f := range s.Fields {
		if f.System {
			continue
		}
		value, present := record[f.Name]
		if !present {
			if partial {
				continue
			}
			if f.Required {
				return fmt.Errorf("%s is required", f.Name)
			}
			continue
		}
		if err := Field(f, value); err != nil {
			return err
		}
	}
	return nil
}

// schemaDocument is the JSON Schema every admin-supplied entity schema
// must satisfy before it reaches the mutation path.
const schemaDocument = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"type": {"enum": ["base", "auth", "view"]},
		"has_api": {"type": "boolean"},
		"view_query": {"type": "string"},
		"list_rule": {"type": "string"},
		"get_rule": {"type": "string"},
		"add_rule": {"type": "string"},
		"update_rule": {"type": "string"},
		"delete_rule": {"type": "string"},
		"fields": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"enum": ["xml", "string", "double", "date",
						"int8", "uint8", "int16", "uint16",
						"int32", "uint32", "int64", "uint64",
						"blob", "json", "bool", "file", "files"]},
					"required": {"type": "boolean"},
					"unique": {"type": "boolean"},
					"old_name": {"type": "string"},
					"constraints": {"type": "object"}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(schemaDocument)

// SchemaJSON validates a raw schema document against the embedded JSON
// Schema and returns the collected violations.
func SchemaJSON(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid schema json: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var reasons []string
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return fmt.Errorf("invalid schema: %s", strings.Join(reasons, "; "))
}
