package backend

import (
	"github.com/allankoechke/mantis-sub000/core/blobs"
)

// Config holds the process-wide settings. CLI flags fill the non-tagged
// fields; envdecode overlays the tagged ones.
type Config struct {
	Host       string
	Port       int
	PoolSize   int
	Database   string // sqlite3, postgres or mysql
	Connection string
	DataDir    string
	PublicDir  string
	ScriptsDir string
	Dev        bool

	// JWTSecret signs session tokens. Override it in any real
	// deployment.
	JWTSecret string `env:"MANTIS_JWT_SECRET,default=mantis-dev-secret"`
	// KafkaBrokers enables the record-event publisher when set.
	KafkaBrokers string `env:"MANTIS_KAFKA_BROKERS,default="`

	Blob blobs.Configuration
}

// Defaults returns the configuration defaults used by the CLI.
func Defaults() Config {
	return Config{
		Host:       "0.0.0.0",
		Port:       7070,
		PoolSize:   6,
		Database:   "sqlite3",
		DataDir:    "./data",
		PublicDir:  "./public",
		ScriptsDir: "./scripts",
	}
}
