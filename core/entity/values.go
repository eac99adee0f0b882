package entity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/allankoechke/mantis-sub000/core/schema"
)

// sqliteTimeFormat pads fractional seconds to a fixed width so the
// stored text sorts chronologically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// bindValue coerces a JSON value into the native type the driver expects
// for the field. Dates are bound as time.Time except on sqlite, which
// stores them as RFC3339 text. Booleans bind as integers since every
// dialect models bool as a small integer column.
func (e *Entity) bindValue(f schema.Field, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch f.Type {
	case "string", "xml", "file":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", f.Name)
		}
		return s, nil

	case "date":
		t, err := asTime(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", f.Name, err)
		}
		if e.db.Dialect.Name() == "sqlite3" {
			return t.UTC().Format(sqliteTimeFormat), nil
		}
		return t.UTC(), nil

	case "double":
		n, ok := asFloat(value)
		if !ok {
			return nil, fmt.Errorf("%s must be a number", f.Name)
		}
		return n, nil

	case "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64":
		n, ok := asInt(value)
		if !ok {
			return nil, fmt.Errorf("%s must be an integer", f.Name)
		}
		return n, nil

	case "bool":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%s must be a boolean", f.Name)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil

	case "json", "files":
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", f.Name, err)
		}
		return string(raw), nil

	case "blob":
		switch v := value.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("%s must be binary data", f.Name)
	}
	return nil, fmt.Errorf("%s has unknown type '%s'", f.Name, f.Type)
}

// normalizeValue converts a scanned driver value back into its JSON
// representation for the field.
func normalizeValue(f schema.Field, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if raw, ok := value.([]byte); ok && f.Type != "blob" {
		value = string(raw)
	}
	switch f.Type {
	case "date":
		switch v := value.(type) {
		case time.Time:
			return v.UTC().Format(time.RFC3339)
		case string:
			return v
		}
	case "json", "files":
		if s, ok := value.(string); ok {
			var out interface{}
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
			return s
		}
	case "bool":
		switch v := value.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		}
	case "double":
		if s, ok := value.(string); ok {
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return n
			}
		}
	case "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64":
		switch v := value.(type) {
		case int64:
			return v
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return value
}

func asTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("'%s' is not an RFC3339 date", v)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("must be an RFC3339 date string")
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	}
	return 0, false
}

func asInt(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// fileNames extracts the stored file names of a file or files value.
func fileNames(f schema.Field, value interface{}) []string {
	if value == nil {
		return nil
	}
	switch f.Type {
	case "file":
		if s, ok := value.(string); ok && s != "" {
			return []string{s}
		}
	case "files":
		switch v := value.(type) {
		case []string:
			return v
		case []interface{}:
			var out []string
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			return out
		case string:
			var arr []string
			if err := json.Unmarshal([]byte(v), &arr); err == nil {
				return arr
			}
		}
	}
	return nil
}
