// Command mantis is the single-binary backend server. It materializes
// REST APIs from user-defined table schemas, with token auth, rule-based
// authorization and file uploads.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/cobra"

	"github.com/allankoechke/mantis-sub000/core/backend"
	"github.com/allankoechke/mantis-sub000/core/csql"
	"github.com/allankoechke/mantis-sub000/core/logger"
)

var config = backend.Defaults()

var rootCmd = &cobra.Command{
	Use:           "mantis",
	Short:         "mantis is a backend-as-a-service in one binary",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Init(config.Dev)
		return envdecode.Decode(&config)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&config.Database, "database", config.Database,
		"database backend: sqlite, psql or mysql")
	flags.StringVar(&config.Connection, "connection", "",
		"database connection string; defaults to <dataDir>/vault.db for sqlite")
	flags.StringVar(&config.DataDir, "dataDir", config.DataDir,
		"directory for the sqlite database and uploaded files")
	flags.StringVar(&config.PublicDir, "publicDir", config.PublicDir,
		"directory served at the web root")
	flags.StringVar(&config.ScriptsDir, "scriptsDir", config.ScriptsDir,
		"directory reserved for server-side scripts")
	flags.BoolVar(&config.Dev, "dev", false, "enable development mode with trace logging")
}

// resolveDriver maps the CLI database name to a driver and the effective
// connection string. sqlite defaults to vault.db in the data directory.
func resolveDriver() (string, string, error) {
	driver := ""
	switch config.Database {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "psql", "postgres":
		driver = "postgres"
	case "mysql":
		driver = "mysql"
	default:
		return "", "", fmt.Errorf("unknown database '%s', expected sqlite, psql or mysql", config.Database)
	}

	dsn := config.Connection
	if driver == "sqlite3" {
		if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
			return "", "", fmt.Errorf("cannot create data directory: %v", err)
		}
		if dsn == "" {
			dsn = filepath.Join(config.DataDir, "vault.db")
		}
	} else if dsn == "" {
		return "", "", fmt.Errorf("database '%s' requires --connection", config.Database)
	}
	return driver, dsn, nil
}

func openDatabase() (*csql.DB, error) {
	driver, dsn, err := resolveDriver()
	if err != nil {
		return nil, err
	}
	return csql.Open(driver, dsn, config.PoolSize)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Default().Errorln(err)
		os.Exit(1)
	}
}
