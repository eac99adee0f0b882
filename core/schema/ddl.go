package schema

import (
	"fmt"
	"strings"

	"github.com/allankoechke/mantis-sub000/core/csql"
)

// CreateDDL projects the schema to a CREATE TABLE statement, or a CREATE
// VIEW for view entities.
func (s *Schema) CreateDDL(d csql.Dialect) (string, error) {
	if s.Type == View {
		return fmt.Sprintf("CREATE VIEW %s AS %s;", d.Quote(s.Name), s.ViewQuery), nil
	}

	var columns []string
	var constraints []string
	for _, f := range s.Fields {
		t, err := d.ColumnType(f.Type)
		if err != nil {
			return "", fmt.Errorf("field '%s': %w", f.Name, err)
		}
		col := d.Quote(f.Name) + " " + t
		if f.PrimaryKey {
			col += " PRIMARY KEY"
		} else if f.Required {
			col += " NOT NULL"
		}
		columns = append(columns, col)
		if f.Unique && !f.PrimaryKey {
			constraints = append(constraints, d.UniqueConstraint("uq_"+s.Name+"_"+f.Name, f.Name))
		}
	}
	columns = append(columns, constraints...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
		d.Quote(s.Name), strings.Join(columns, ", ")), nil
}

// DropDDL projects the schema to its DROP statement.
func (s *Schema) DropDDL(d csql.Dialect) string {
	if s.Type == View {
		return fmt.Sprintf("DROP VIEW IF EXISTS %s;", d.Quote(s.Name))
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", d.Quote(s.Name))
}

// DiffDDL synthesizes the ALTER statements that migrate the table of old
// into the table of updated. Supported primitives: add column, drop
// column, rename column (via the old_name hint) and column type change.
// The table name used is the one of old; table renames are handled by the
// caller.
func DiffDDL(old, updated *Schema, d csql.Dialect) ([]string, error) {
	if old.Type == View || updated.Type == View {
		// views are re-created wholesale
		ddl, err := updated.CreateDDL(d)
		if err != nil {
			return nil, err
		}
		return []string{old.DropDDL(d), ddl}, nil
	}

	var statements []string
	table := old.Name

	renamedFrom := map[string]string{} // old column name -> new column name
	for _, f := range updated.Fields {
		if f.OldName != "" && f.OldName != f.Name {
			renamedFrom[f.OldName] = f.Name
		}
	}

	kept := map[string]Field{}
	for _, f := range updated.Fields {
		kept[f.Name] = f
	}

	for _, f := range old.Fields {
		if newName, renamed := renamedFrom[f.Name]; renamed {
			statements = append(statements, d.RenameColumn(table, f.Name, newName))
			continue
		}
		updatedField, ok := kept[f.Name]
		if !ok {
			if f.System {
				return nil, fmt.Errorf("system field '%s' cannot be removed", f.Name)
			}
			statements = append(statements, d.DropColumn(table, f.Name))
			continue
		}
		if updatedField.Type != f.Type {
			stmt, err := d.AlterColumnType(table, f.Name, updatedField.Type)
			if err != nil {
				return nil, err
			}
			statements = append(statements, stmt)
		}
	}

	existing := map[string]bool{}
	for _, f := range old.Fields {
		name := f.Name
		if newName, renamed := renamedFrom[name]; renamed {
			name = newName
		}
		existing[name] = true
	}
	for _, f := range updated.Fields {
		if existing[f.Name] {
			continue
		}
		stmt, err := d.AddColumn(table, f.Name, f.Type)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}
