// Package schema holds the declarative entity model. A schema describes
// one user-defined table: its fields, constraints and access rules. It
// projects to DDL through the csql dialect facade and round-trips through
// JSON for persistence in the _tables metadata entity.
package schema

import (
	"fmt"
	"hash/fnv"
	"regexp"

	"github.com/goccy/go-json"
)

// Kind is the entity category.
type Kind string

// The three entity kinds. Auth entities carry credentials and expose
// auth-with-password; views are read-only projections of a query.
const (
	Base Kind = "base"
	Auth Kind = "auth"
	View Kind = "view"
)

// Operation names one CRUD route of an entity.
type Operation string

// The five rule-guarded operations.
const (
	OperationList   Operation = "list"
	OperationGet    Operation = "get"
	OperationAdd    Operation = "add"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

var fieldTypes = map[string]bool{
	"xml": true, "string": true, "double": true, "date": true,
	"int8": true, "uint8": true, "int16": true, "uint16": true,
	"int32": true, "uint32": true, "int64": true, "uint64": true,
	"blob": true, "json": true, "bool": true, "file": true, "files": true,
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Constraints is the open per-field constraint mapping. Unknown keys are
// dropped on parse.
type Constraints struct {
	MinValue     *float64    `json:"min_value,omitempty"`
	MaxValue     *float64    `json:"max_value,omitempty"`
	Validator    string      `json:"validator,omitempty"`
	DefaultValue interface{} `json:"default_value,omitempty"`
}

// Field is one column of an entity.
type Field struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Required   bool   `json:"required"`
	PrimaryKey bool   `json:"primary_key"`
	System     bool   `json:"system"`
	Unique     bool   `json:"unique"`
	// OldName marks a column rename in a schema update. It is never
	// persisted.
	OldName     string      `json:"old_name,omitempty"`
	Constraints Constraints `json:"constraints"`
}

// Schema is the declarative metadata of one entity.
type Schema struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Type       Kind    `json:"type"`
	System     bool    `json:"system"`
	HasAPI     bool    `json:"has_api"`
	Fields     []Field `json:"fields"`
	ListRule   string  `json:"list_rule"`
	GetRule    string  `json:"get_rule"`
	AddRule    string  `json:"add_rule"`
	UpdateRule string  `json:"update_rule"`
	DeleteRule string  `json:"delete_rule"`
	ViewQuery  string  `json:"view_query,omitempty"`
}

// IDFor derives the stable entity id from its name.
func IDFor(name string) string {
	h := fnv.New64a()
	h.Write([]byte(name))
	return fmt.Sprintf("mt_%x", h.Sum64())
}

// New creates a schema of the given kind seeded with the system fields.
func New(name string, kind Kind) *Schema {
	s := &Schema{
		ID:     IDFor(name),
		Name:   name,
		Type:   kind,
		HasAPI: true,
		Fields: systemFields(kind),
	}
	return s
}

func systemFields(kind Kind) []Field {
	fields := []Field{
		{Name: "id", Type: "string", Required: true, PrimaryKey: true, System: true},
		{Name: "created", Type: "date", System: true},
		{Name: "updated", Type: "date", System: true},
	}
	if kind == Auth {
		fields = append(fields,
			Field{Name: "name", Type: "string"},
			Field{Name: "email", Type: "string", Required: true, Unique: true,
				Constraints: Constraints{Validator: "@email"}},
			Field{Name: "password", Type: "string", Required: true,
				Constraints: Constraints{Validator: "@password"}},
		)
	}
	return fields
}

// FromJSON parses a schema document, merges in the system fields of its
// kind and validates the result. User-supplied redefinitions of system
// fields are dropped.
func FromJSON(raw []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid schema json: %w", err)
	}
	if s.Type == "" {
		s.Type = Base
	}
	// the API is on unless the document switches it off explicitly
	var flags struct {
		HasAPI *bool `json:"has_api"`
	}
	json.Unmarshal(raw, &flags)
	if flags.HasAPI == nil {
		s.HasAPI = true
	}
	system := systemFields(s.Type)
	reserved := map[string]bool{}
	for _, f := range system {
		reserved[f.Name] = true
	}
	merged := system
	for _, f := range s.Fields {
		if reserved[f.Name] {
			continue
		}
		// only the built-in fields are system
		f.System = false
		merged = append(merged, f)
	}
	s.Fields = merged
	s.ID = IDFor(s.Name)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ToJSON serializes the schema for persistence. Update hints are stripped
// first.
func (s *Schema) ToJSON() ([]byte, error) {
	clone := *s
	clone.Fields = make([]Field, len(s.Fields))
	copy(clone.Fields, s.Fields)
	for i := range clone.Fields {
		clone.Fields[i].OldName = ""
	}
	return json.Marshal(&clone)
}

// Validate checks the structural integrity of the schema.
func (s *Schema) Validate() error {
	if !identifierPattern.MatchString(s.Name) {
		return fmt.Errorf("invalid entity name '%s'", s.Name)
	}
	switch s.Type {
	case Base, Auth, View:
	default:
		return fmt.Errorf("invalid entity type '%s'", s.Type)
	}
	if s.Type == View && s.ViewQuery == "" {
		return fmt.Errorf("view entity '%s' requires a view_query", s.Name)
	}
	seen := map[string]bool{}
	for _, f := range s.Fields {
		if !identifierPattern.MatchString(f.Name) {
			return fmt.Errorf("invalid field name '%s'", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field '%s'", f.Name)
		}
		seen[f.Name] = true
		if !fieldTypes[f.Type] {
			return fmt.Errorf("field '%s' has unknown type '%s'", f.Name, f.Type)
		}
	}
	return nil
}

// Rename changes the entity name and recomputes the derived id.
func (s *Schema) Rename(newName string) error {
	if !identifierPattern.MatchString(newName) {
		return fmt.Errorf("invalid entity name '%s'", newName)
	}
	s.Name = newName
	s.ID = IDFor(newName)
	return nil
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FileFields returns the fields of type file or files.
func (s *Schema) FileFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Type == "file" || f.Type == "files" {
			out = append(out, f)
		}
	}
	return out
}

// IsAuth reports whether records of this entity carry credentials.
func (s *Schema) IsAuth() bool { return s.Type == Auth }

// Rule returns the rule string guarding the given operation.
func (s *Schema) Rule(op Operation) string {
	switch op {
	case OperationList:
		return s.ListRule
	case OperationGet:
		return s.GetRule
	case OperationAdd:
		return s.AddRule
	case OperationUpdate:
		return s.UpdateRule
	case OperationDelete:
		return s.DeleteRule
	}
	return ""
}
