// Package csql encapsulates the relational store behind mantis.
//
// It wraps database/sql with a fixed-size session pool and a dialect facade
// that hides the DDL differences between sqlite3, postgresql and mysql.
package csql

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/allankoechke/mantis-sub000/core/logger"
)

// DB is a database handle with its dialect attached.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a row.
var ErrNoRows = sql.ErrNoRows

// Open connects to the database identified by driver ("sqlite3",
// "postgres" or "mysql") and caps the session pool at poolSize.
// Checkouts beyond the pool size block until a session is returned.
func Open(driver, dsn string, poolSize int) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if driver == "mysql" && !strings.Contains(dsn, "parseTime") {
		// date columns scan into time.Time only with parseTime enabled
		if strings.ContainsRune(dsn, '?') {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}
	logger.Default().Debugln("connecting to", driver, "database")
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach %s database: %w", driver, err)
	}
	if poolSize < 1 {
		poolSize = 1
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	return &DB{DB: db, Dialect: dialect}, nil
}

// Rebind rewrites a query written with ? placeholders into the bind
// syntax of the dialect. Postgres uses numbered $n parameters, the other
// drivers take ? as is.
func (db *DB) Rebind(query string) string {
	if db.Dialect.Name() != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HasTable reports whether the table exists.
func (db *DB) HasTable(name string) bool {
	var query string
	switch db.Dialect.Name() {
	case "sqlite3":
		query = `SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name=?;`
	case "postgres":
		query = `SELECT table_name FROM information_schema.tables WHERE table_name=$1;`
	case "mysql":
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema=DATABASE() AND table_name=?;`
	}
	var found string
	err := db.QueryRow(query, name).Scan(&found)
	return err == nil
}

// IsUniqueViolation reports whether the driver error is a unique
// constraint violation, for any of the three supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	if myErr, ok := err.(*mysql.MySQLError); ok {
		return myErr.Number == 1062
	}
	if liteErr, ok := err.(sqlite3.Error); ok {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
