package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/allankoechke/mantis-sub000/core/backend"
)

func TestResolveDriver(t *testing.T) {
	orig := config
	defer func() { config = orig }()

	config = backend.Defaults()
	config.DataDir = t.TempDir()
	config.Connection = ""

	config.Database = "sqlite"
	driver, dsn, err := resolveDriver()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "sqlite3", driver)
	assert.Equal(t, filepath.Join(config.DataDir, "vault.db"), dsn)

	// server databases need an explicit connection string
	config.Database = "psql"
	_, _, err = resolveDriver()
	assert.ErrorContains(t, err, "requires --connection")

	config.Connection = "postgres://localhost/mantis"
	driver, dsn, err = resolveDriver()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "postgres", driver)
	assert.Equal(t, config.Connection, dsn)

	config.Database = "oracle"
	_, _, err = resolveDriver()
	assert.ErrorContains(t, err, "unknown database")
}
