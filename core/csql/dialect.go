package csql

import (
	"fmt"
	"strings"
)

// Dialect is the DDL facade of one supported database driver. Entities
// project their schemas to SQL exclusively through this interface.
type Dialect interface {
	Name() string
	// ColumnType maps a mantis field kind to the column type of this
	// database.
	ColumnType(kind string) (string, error)
	AddColumn(table, column, kind string) (string, error)
	DropColumn(table, column string) string
	RenameColumn(table, oldName, newName string) string
	// AlterColumnType synthesizes a column type change. SQLite cannot
	// alter column types and returns an error.
	AlterColumnType(table, column, kind string) (string, error)
	UniqueConstraint(name, column string) string
	RenameTable(oldName, newName string) string
	Quote(identifier string) string
}

// DialectFor returns the dialect for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return sqliteDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver '%s'", driver)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) ColumnType(kind string) (string, error) {
	switch kind {
	case "string", "xml", "file":
		return "TEXT", nil
	case "json", "files":
		return "TEXT", nil
	case "date":
		// sqlite has no native timestamp, dates are stored as RFC3339 text
		return "TEXT", nil
	case "double":
		return "REAL", nil
	case "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64", "bool":
		return "INTEGER", nil
	case "blob":
		return "BLOB", nil
	}
	return "", fmt.Errorf("unknown field type '%s'", kind)
}

func (d sqliteDialect) AddColumn(table, column, kind string) (string, error) {
	t, err := d.ColumnType(kind)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", d.Quote(table), d.Quote(column), t), nil
}

func (d sqliteDialect) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", d.Quote(table), d.Quote(column))
}

func (d sqliteDialect) RenameColumn(table, oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", d.Quote(table), d.Quote(oldName), d.Quote(newName))
}

func (d sqliteDialect) AlterColumnType(table, column, kind string) (string, error) {
	return "", fmt.Errorf("sqlite3 does not support column type changes (column '%s')", column)
}

func (d sqliteDialect) UniqueConstraint(name, column string) string {
	return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", d.Quote(name), d.Quote(column))
}

func (d sqliteDialect) RenameTable(oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", d.Quote(oldName), d.Quote(newName))
}

func (sqliteDialect) Quote(identifier string) string { return quoteDouble(identifier) }

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) ColumnType(kind string) (string, error) {
	switch kind {
	case "string", "xml", "file":
		return "VARCHAR", nil
	case "json", "files":
		return "JSON", nil
	case "date":
		return "TIMESTAMP", nil
	case "double":
		return "DOUBLE PRECISION", nil
	// postgres has no unsigned integers, small kinds widen to the next
	// signed type that holds their range
	case "int8", "uint8", "int16", "bool":
		return "SMALLINT", nil
	case "uint16", "int32":
		return "INTEGER", nil
	case "uint32", "int64":
		return "BIGINT", nil
	case "uint64":
		return "NUMERIC(20)", nil
	case "blob":
		return "BYTEA", nil
	}
	return "", fmt.Errorf("unknown field type '%s'", kind)
}

func (d postgresDialect) AddColumn(table, column, kind string) (string, error) {
	t, err := d.ColumnType(kind)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s;", d.Quote(table), d.Quote(column), t), nil
}

func (d postgresDialect) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s;", d.Quote(table), d.Quote(column))
}

func (d postgresDialect) RenameColumn(table, oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", d.Quote(table), d.Quote(oldName), d.Quote(newName))
}

func (d postgresDialect) AlterColumnType(table, column, kind string) (string, error) {
	t, err := d.ColumnType(kind)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s;",
		d.Quote(table), d.Quote(column), t, d.Quote(column), t), nil
}

func (d postgresDialect) UniqueConstraint(name, column string) string {
	return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", d.Quote(name), d.Quote(column))
}

func (d postgresDialect) RenameTable(oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s;", d.Quote(oldName), d.Quote(newName))
}

func (postgresDialect) Quote(identifier string) string { return quoteDouble(identifier) }

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) ColumnType(kind string) (string, error) {
	switch kind {
	case "string", "xml", "file":
		return "VARCHAR(255)", nil
	case "json", "files":
		return "JSON", nil
	case "date":
		return "DATETIME", nil
	case "double":
		return "DOUBLE", nil
	case "int8":
		return "TINYINT", nil
	case "uint8":
		return "TINYINT UNSIGNED", nil
	case "int16":
		return "SMALLINT", nil
	case "uint16":
		return "SMALLINT UNSIGNED", nil
	case "int32":
		return "INT", nil
	case "uint32":
		return "INT UNSIGNED", nil
	case "int64":
		return "BIGINT", nil
	case "uint64":
		return "BIGINT UNSIGNED", nil
	case "bool":
		return "TINYINT(1)", nil
	case "blob":
		return "BLOB", nil
	}
	return "", fmt.Errorf("unknown field type '%s'", kind)
}

func (d mysqlDialect) AddColumn(table, column, kind string) (string, error) {
	t, err := d.ColumnType(kind)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", d.Quote(table), d.Quote(column), t), nil
}

func (d mysqlDialect) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", d.Quote(table), d.Quote(column))
}

func (d mysqlDialect) RenameColumn(table, oldName, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s;", d.Quote(table), d.Quote(oldName), d.Quote(newName))
}

func (d mysqlDialect) AlterColumnType(table, column, kind string) (string, error) {
	t, err := d.ColumnType(kind)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s %s;", d.Quote(table), d.Quote(column), t), nil
}

func (d mysqlDialect) UniqueConstraint(name, column string) string {
	return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", d.Quote(name), d.Quote(column))
}

func (d mysqlDialect) RenameTable(oldName, newName string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s;", d.Quote(oldName), d.Quote(newName))
}

func (mysqlDialect) Quote(identifier string) string {
	return "`" + strings.ReplaceAll(identifier, "`", "") + "`"
}

func quoteDouble(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, ``) + `"`
}
