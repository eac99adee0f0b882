// Package blobs stores the files referenced by file and files fields.
// Files live under a per-entity prefix; a local filesystem driver and an
// S3 driver are provided.
package blobs

import (
	"errors"
	"io"
	"strings"
)

// ErrNotFound is returned when a stored file does not exist.
var ErrNotFound = errors.New("file not found")

// Store is the upload store contract. Keys are (entity, filename) pairs.
type Store interface {
	// Put persists the content under the entity prefix, replacing any
	// existing file of the same name.
	Put(entity, name string, r io.Reader) error
	// Get opens a stored file for reading.
	Get(entity, name string) (io.ReadCloser, error)
	// Delete removes one file. Deleting a missing file is not an error.
	Delete(entity, name string) error
	// DeleteAll removes the whole entity prefix.
	DeleteAll(entity string) error
}

// Configuration selects and parametrizes the store driver.
type Configuration struct {
	// Driver is "local" or "s3".
	Driver string `env:"MANTIS_BLOB_DRIVER,default=local"`
	// S3Bucket is required for the s3 driver.
	S3Bucket string `env:"MANTIS_S3_BUCKET,default="`
	// S3KeyPrefix is prepended to every object key.
	S3KeyPrefix string `env:"MANTIS_S3_KEY_PREFIX,default=files"`
}

// Sanitize normalizes an uploaded filename: spaces and tabs become
// underscores, commas are stripped, path separators are rejected by
// mapping to underscores as well.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "\t", "_")
	name = strings.ReplaceAll(name, ",", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	return name
}
