// Package entity is the typed runtime view over an entity schema. It
// executes validated, type-coerced reads and writes against the database
// and carries the file-field side effects of updates and deletes.
package entity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/allankoechke/mantis-sub000/core/access"
	"github.com/allankoechke/mantis-sub000/core/blobs"
	"github.com/allankoechke/mantis-sub000/core/csql"
	"github.com/allankoechke/mantis-sub000/core/logger"
	"github.com/allankoechke/mantis-sub000/core/schema"
	"github.com/allankoechke/mantis-sub000/core/validation"
)

// Record is one row of an entity, keyed by field name.
type Record map[string]interface{}

// Error kinds returned by the executor. Handlers translate them into
// response statuses.
var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

// ListOptions controls pagination. Pagination is mandatory.
type ListOptions struct {
	PageIndex  int
	PerPage    int
	CountPages bool
}

// Pagination is the envelope block returned alongside list results. When
// counting was not requested, PageCount is -1.
type Pagination struct {
	PageIndex   int `json:"page_index"`
	PerPage     int `json:"per_page"`
	PageCount   int `json:"page_count"`
	RecordCount int `json:"record_count"`
}

const (
	idRetries    = 10
	idWidenAfter = 5
)

// Entity mediates CRUD for one schema.
type Entity struct {
	db     *csql.DB
	schema *schema.Schema
	store  blobs.Store
}

// New returns the runtime entity for a schema. The store may be nil for
// entities without file fields.
func New(db *csql.DB, s *schema.Schema, store blobs.Store) *Entity {
	return &Entity{db: db, schema: s, store: store}
}

// Schema returns the underlying schema.
func (e *Entity) Schema() *schema.Schema { return e.schema }

func (e *Entity) table() string { return e.db.Dialect.Quote(e.schema.Name) }

func (e *Entity) columnList() string {
	names := make([]string, len(e.schema.Fields))
	for i, f := range e.schema.Fields {
		names[i] = e.db.Dialect.Quote(f.Name)
	}
	return strings.Join(names, ", ")
}

// Create validates and inserts a record, then re-reads it by id. Unknown
// keys are dropped silently; created and updated are always generated
// here. A caller-supplied id is honored, system entities use that for
// their fixed rows.
func (e *Entity) Create(ctx context.Context, record Record) (Record, error) {
	if e.schema.Type == schema.View {
		return nil, fmt.Errorf("%w: cannot create records of a view", ErrInvalidArgument)
	}
	if err := validation.Record(e.schema, record, false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	id, _ := record["id"].(string)
	if id == "" {
		var err error
		id, err = e.newID(ctx)
		if err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()

	var columns []string
	var values []interface{}
	for _, f := range e.schema.Fields {
		var raw interface{}
		switch f.Name {
		case "id":
			raw = id
		case "created", "updated":
			raw = now
		case "password":
			if e.schema.IsAuth() {
				plain, _ := record["password"].(string)
				hashed, err := access.HashPassword(plain)
				if err != nil {
					return nil, err
				}
				raw = hashed
				break
			}
			fallthrough
		default:
			value, present := record[f.Name]
			if !present {
				if f.Constraints.DefaultValue != nil {
					value = f.Constraints.DefaultValue
				} else {
					continue
				}
			}
			raw = value
		}
		bound, err := e.bindValue(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		columns = append(columns, e.db.Dialect.Quote(f.Name))
		values = append(values, bound)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	query := e.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		e.table(), strings.Join(columns, ", "), placeholders))

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, query, values...); err != nil {
		tx.Rollback()
		if csql.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return e.Read(ctx, id)
}

// Read returns a single record by primary key, with the password erased
// for auth entities. Missing rows map to ErrNotFound.
func (e *Entity) Read(ctx context.Context, id string) (Record, error) {
	query := e.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?;",
		e.columnList(), e.table(), e.db.Dialect.Quote("id")))
	record, err := e.scanOne(ctx, query, id)
	if err != nil {
		return nil, err
	}
	e.redact(record)
	return record, nil
}

// readByColumn is the internal, unredacted read used by auth flows;
// callers must not let the result escape without redacting it.
func (e *Entity) readByColumn(ctx context.Context, column, value string) (Record, error) {
	query := e.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?;",
		e.columnList(), e.table(), e.db.Dialect.Quote(column)))
	return e.scanOne(ctx, query, value)
}

// List returns one page of records ordered by created DESC, with id as
// the tiebreaker so pages stay disjoint for records created in the same
// instant. Invalid pagination values fail with ErrInvalidArgument. When
// opts.CountPages is set, a second COUNT query fills the pagination
// envelope; otherwise PageCount is -1.
func (e *Entity) List(ctx context.Context, opts ListOptions) ([]Record, *Pagination, error) {
	if opts.PageIndex < 1 {
		return nil, nil, fmt.Errorf("%w: page_index must be >= 1", ErrInvalidArgument)
	}
	if opts.PerPage < 1 {
		return nil, nil, fmt.Errorf("%w: per_page must be > 0", ErrInvalidArgument)
	}

	query := e.db.Rebind(fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s DESC, %s DESC LIMIT ? OFFSET ?;",
		e.columnList(), e.table(), e.db.Dialect.Quote("created"), e.db.Dialect.Quote("id")))
	rows, err := e.db.QueryContext(ctx, query, opts.PerPage, (opts.PageIndex-1)*opts.PerPage)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		record, err := e.scanRow(rows)
		if err != nil {
			return nil, nil, err
		}
		e.redact(record)
		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, err
	}

	pagination := &Pagination{
		PageIndex: opts.PageIndex,
		PerPage:   opts.PerPage,
		PageCount: -1,
	}
	if opts.CountPages {
		countQuery := fmt.Sprintf("SELECT COUNT(%s) FROM %s;",
			e.db.Dialect.Quote("id"), e.table())
		var total int
		if err = e.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
			return nil, nil, err
		}
		pagination.RecordCount = total
		pagination.PageCount = (total + opts.PerPage - 1) / opts.PerPage
	}
	return records, pagination, nil
}

// Update applies a partial record. System keys and unknown keys are
// dropped. Files referenced by the old value but absent from the new one
// are deleted from the store after the transaction commits.
func (e *Entity) Update(ctx context.Context, id string, data Record) (Record, error) {
	if e.schema.Type == schema.View {
		return nil, fmt.Errorf("%w: cannot update records of a view", ErrInvalidArgument)
	}
	if err := validation.Record(e.schema, data, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	existing, err := e.readByColumn(ctx, "id", id)
	if err != nil {
		return nil, err
	}

	// files present in the database but not in the new value are
	// scheduled for deletion; the deletes run only after commit
	var scheduledDeletes []string
	for _, f := range e.schema.FileFields() {
		newValue, present := data[f.Name]
		if !present {
			continue
		}
		oldNames := fileNames(f, existing[f.Name])
		newNames := map[string]bool{}
		for _, n := range fileNames(f, newValue) {
			newNames[n] = true
		}
		for _, n := range oldNames {
			if !newNames[n] {
				scheduledDeletes = append(scheduledDeletes, n)
			}
		}
	}

	var sets []string
	var values []interface{}
	for _, f := range e.schema.Fields {
		if f.System {
			continue
		}
		value, present := data[f.Name]
		if !present {
			continue
		}
		if f.Name == "password" && e.schema.IsAuth() {
			plain, _ := value.(string)
			hashed, err := access.HashPassword(plain)
			if err != nil {
				return nil, err
			}
			value = hashed
		}
		bound, err := e.bindValue(f, value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		sets = append(sets, e.db.Dialect.Quote(f.Name)+" = ?")
		values = append(values, bound)
	}

	updatedField, _ := e.schema.Field("updated")
	now, _ := e.bindValue(updatedField, time.Now().UTC())
	sets = append(sets, e.db.Dialect.Quote("updated")+" = ?")
	values = append(values, now)
	values = append(values, id)

	query := e.db.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?;",
		e.table(), strings.Join(sets, ", "), e.db.Dialect.Quote("id")))

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, query, values...); err != nil {
		tx.Rollback()
		if csql.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	e.deleteFiles(ctx, scheduledDeletes)
	return e.Read(ctx, id)
}

// Remove deletes a record and, after commit, the files it referenced.
// Views reject deletion.
func (e *Entity) Remove(ctx context.Context, id string) error {
	if e.schema.Type == schema.View {
		return fmt.Errorf("%w: cannot delete records of a view", ErrInvalidArgument)
	}

	record, err := e.readByColumn(ctx, "id", id)
	if err != nil {
		return err
	}

	query := e.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?;",
		e.table(), e.db.Dialect.Quote("id")))
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, query, id); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	var names []string
	for _, f := range e.schema.FileFields() {
		names = append(names, fileNames(f, record[f.Name])...)
	}
	e.deleteFiles(ctx, names)
	return nil
}

// QueryFromCols returns the single record where any of the given columns
// equals value. Used by the admin CLI for remove-by-id-or-email.
func (e *Entity) QueryFromCols(ctx context.Context, value string, columns []string) (Record, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns given", ErrInvalidArgument)
	}
	var clauses []string
	var values []interface{}
	for _, c := range columns {
		if _, ok := e.schema.Field(c); !ok {
			return nil, fmt.Errorf("%w: unknown column '%s'", ErrInvalidArgument, c)
		}
		clauses = append(clauses, e.db.Dialect.Quote(c)+" = ?")
		values = append(values, value)
	}
	query := e.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s;",
		e.columnList(), e.table(), strings.Join(clauses, " OR ")))
	record, err := e.scanOne(ctx, query, values...)
	if err != nil {
		return nil, err
	}
	e.redact(record)
	return record, nil
}

// Exists reports whether a record with the given id exists. Any driver
// error counts as "does not exist" so the id retry loop in Create cannot
// spin forever on a broken session.
func (e *Entity) Exists(ctx context.Context, id string) bool {
	query := e.db.Rebind(fmt.Sprintf("SELECT COUNT(%s) FROM %s WHERE %s = ? LIMIT 1;",
		e.db.Dialect.Quote("id"), e.table(), e.db.Dialect.Quote("id")))
	var count int
	if err := e.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// AuthWithPassword verifies credentials against an auth entity and
// returns the redacted record. The caller issues the session token.
func (e *Entity) AuthWithPassword(ctx context.Context, email, password string) (Record, error) {
	if !e.schema.IsAuth() {
		return nil, fmt.Errorf("%w: '%s' is not an auth entity", ErrInvalidArgument, e.schema.Name)
	}
	record, err := e.readByColumn(ctx, "email", email)
	if err != nil {
		return nil, err
	}
	hash, _ := record["password"].(string)
	if !access.CheckPassword(hash, password) {
		return nil, fmt.Errorf("%w", ErrNotFound)
	}
	e.redact(record)
	return record, nil
}

func (e *Entity) redact(record Record) {
	if e.schema.IsAuth() {
		delete(record, "password")
	}
}

func (e *Entity) deleteFiles(ctx context.Context, names []string) {
	if e.store == nil || len(names) == 0 {
		return
	}
	rlog := logger.FromContext(ctx)
	for _, name := range names {
		if err := e.store.Delete(e.schema.Name, name); err != nil {
			rlog.WithError(err).Warnf("could not delete file '%s' of entity '%s'", name, e.schema.Name)
		}
	}
}

func (e *Entity) scanOne(ctx context.Context, query string, args ...interface{}) (Record, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return e.scanRow(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (e *Entity) scanRow(row scanner) (Record, error) {
	values := make([]interface{}, len(e.schema.Fields))
	for i := range values {
		values[i] = new(interface{})
	}
	if err := row.Scan(values...); err != nil {
		return nil, err
	}
	record := Record{}
	for i, f := range e.schema.Fields {
		record[f.Name] = normalizeValue(f, *values[i].(*interface{}))
	}
	return record, nil
}

// newID generates a time-ordered random identifier and retries on
// collision. After idWidenAfter attempts the random suffix widens.
func (e *Entity) newID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < idRetries; attempt++ {
		size := 9
		if attempt >= idWidenAfter {
			size = 15
		}
		id := strconv.FormatInt(time.Now().UnixMilli(), 36) + randomAlphanum(size)
		if !e.Exists(ctx, id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique id for '%s'", e.schema.Name)
}

const alphanum = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomAlphanum(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphanum)))
	for i := range out {
		r, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			out[i] = alphanum[time.Now().Nanosecond()%len(alphanum)]
			continue
		}
		out[i] = alphanum[r.Int64()]
	}
	return string(out)
}
