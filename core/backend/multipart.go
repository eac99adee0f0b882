package backend

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/allankoechke/mantis-sub000/core/blobs"
	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
	"github.com/allankoechke/mantis-sub000/core/schema"
)

// stagedFile is an upload held in memory until the record write
// committed.
type stagedFile struct {
	field       string
	name        string
	fingerprint string
	data        []byte
}

// readContent turns the request body into a record. JSON bodies pass
// through; multipart bodies are split into text fields, coerced to the
// schema types, and staged file parts.
func (b *Backend) readContent(req *Request, e *entity.Entity) (entity.Record, []stagedFile, error) {
	if !req.IsMultipartFormData() {
		body, err := req.BodyJSON()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid json data: %v", err)
		}
		return body, nil, nil
	}
	return b.readMultipartContent(req, e)
}

func (b *Backend) readMultipartContent(req *Request, e *entity.Entity) (entity.Record, []stagedFile, error) {
	reader, err := req.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid multipart data: %v", err)
	}

	s := e.Schema()
	maxSize := b.settings.MaxFileSize()
	body := entity.Record{}
	var staged []stagedFile

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("invalid multipart data: %v", err)
		}

		fieldName := part.FormName()
		if fieldName == "" {
			part.Close()
			continue
		}
		field, known := s.Field(fieldName)

		if fileName := part.FileName(); fileName != "" {
			// uploads under fields the schema does not know are never
			// persisted; the executor drops the key anyway
			if !known {
				io.Copy(io.Discard, part)
				part.Close()
				continue
			}
			data, err := io.ReadAll(io.LimitReader(part, maxSize+1))
			part.Close()
			if err != nil {
				return nil, nil, fmt.Errorf("cannot read upload '%s': %v", fileName, err)
			}
			if int64(len(data)) > maxSize {
				return nil, nil, fmt.Errorf("file '%s' exceeds the size limit of %d bytes", fileName, maxSize)
			}
			name := blobs.Sanitize(fileName)
			fp := partFingerprint(fieldName, fileName, part.Header.Get("Content-Type"), len(data))
			staged = append(staged, stagedFile{field: fieldName, name: name, fingerprint: fp, data: data})
			logger.FromContext(req.Context()).
				Debugf("staged upload '%s' (%s, %d bytes)", name, fp, len(data))

			switch field.Type {
			case "files":
				names, _ := body[fieldName].([]interface{})
				body[fieldName] = append(names, name)
			default:
				body[fieldName] = name
			}
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, maxSize))
		part.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("cannot read field '%s': %v", fieldName, err)
		}
		body[fieldName] = coerceFormValue(field, string(value))
	}
	return body, staged, nil
}

// partFingerprint identifies one upload part in the logs by hashing its
// metadata.
func partFingerprint(field, filename, contentType string, size int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%s:%s:%d", field, filename, contentType, size)
	return fmt.Sprintf("%x", h.Sum64())
}

// coerceFormValue maps a text form value to the JSON shape the schema
// type expects. Unparseable values pass through as strings and fail
// validation with the proper message later.
func coerceFormValue(field schema.Field, value string) interface{} {
	switch field.Type {
	case "bool":
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	case "double", "int8", "uint8", "int16", "uint16", "int32", "uint32", "int64", "uint64":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	case "json", "files":
		var v interface{}
		if err := json.Unmarshal([]byte(value), &v); err == nil {
			return v
		}
	}
	return value
}

// persistStaged writes staged uploads to the blob store before the
// record write runs.
func (b *Backend) persistStaged(e *entity.Entity, staged []stagedFile) error {
	for _, f := range staged {
		if err := b.store.Put(e.Schema().Name, f.name, bytes.NewReader(f.data)); err != nil {
			return fmt.Errorf("cannot store file '%s': %v", f.name, err)
		}
	}
	return nil
}

// discardStaged removes uploads whose record write failed, so a rejected
// create leaves no orphaned files behind.
func (b *Backend) discardStaged(req *Request, e *entity.Entity, staged []stagedFile) {
	for _, f := range staged {
		if err := b.store.Delete(e.Schema().Name, f.name); err != nil {
			logger.FromContext(req.Context()).WithError(err).
				Warnf("cannot discard staged file '%s'", f.name)
		}
	}
}
