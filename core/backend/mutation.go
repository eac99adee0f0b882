package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
	"github.com/allankoechke/mantis-sub000/core/schema"
	"github.com/allankoechke/mantis-sub000/core/validation"
)

// addTableRoutes registers the schema mutation endpoints. All of them
// are admin-only; the write operations additionally serialize on the
// mutation mutex.
func (b *Backend) addTableRoutes() {
	admin := []MiddlewareFunc{b.requireAdmin}
	b.registry.add(http.MethodGet, "/api/v1/_tables", admin, b.listTablesHandler)
	b.registry.add(http.MethodGet, "/api/v1/_tables/:id", admin, b.getTableHandler)
	b.registry.add(http.MethodPost, "/api/v1/_tables", admin, b.createTableHandler)
	b.registry.add(http.MethodPatch, "/api/v1/_tables/:id", admin, b.updateTableHandler)
	b.registry.add(http.MethodDelete, "/api/v1/_tables/:id", admin, b.deleteTableHandler)
}

func (b *Backend) listTablesHandler(req *Request, res *Response) {
	tables, _ := b.Entity("_tables")
	opts, err := listOptionsFromQuery(req)
	if err != nil {
		res.SendError(http.StatusBadRequest, err.Error())
		return
	}
	records, pagination, err := tables.List(req.Context(), opts)
	if err != nil {
		b.sendEntityError(req, res, err)
		return
	}
	res.SendPaginated(http.StatusOK, records, pagination)
}

// getTableHandler resolves a schema row by id or by name.
func (b *Backend) getTableHandler(req *Request, res *Response) {
	tables, _ := b.Entity("_tables")
	record, err := tables.QueryFromCols(req.Context(), req.Param("id"), []string{"id", "name"})
	if err != nil {
		b.sendEntityError(req, res, err)
		return
	}
	res.SendJSON(http.StatusOK, record)
}

// createTableHandler materializes a new entity: table DDL, metadata row,
// runtime entity and route set.
func (b *Backend) createTableHandler(req *Request, res *Response) {
	b.mutationMutex.Lock()
	defer b.mutationMutex.Unlock()

	s, err := parseSchemaBody(req.Body())
	if err != nil {
		res.SendError(http.StatusBadRequest, err.Error())
		return
	}
	// system status is assigned at boot, never by a client
	s.System = false
	if reservedEntityName(s.Name) {
		res.SendError(http.StatusBadRequest, fmt.Sprintf("entity name '%s' is reserved", s.Name))
		return
	}
	if _, exists := b.Entity(s.Name); exists || b.db.HasTable(s.Name) {
		res.SendError(http.StatusBadRequest, fmt.Sprintf("entity '%s' already exists", s.Name))
		return
	}

	ddl, err := s.CreateDDL(b.db.Dialect)
	if err != nil {
		res.SendError(http.StatusBadRequest, err.Error())
		return
	}
	if _, err = b.db.ExecContext(req.Context(), ddl); err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3120: cannot create table")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}

	if err = b.saveSchemaRecord(req.Context(), s); err != nil {
		// compensate, DDL is not transactional on every dialect
		b.db.ExecContext(req.Context(), s.DropDDL(b.db.Dialect))
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3121: cannot persist schema")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}

	b.setEntity(entity.New(b.db, s, b.store))
	b.addEntityRoutes(s)
	b.notifier.Notify(req.Context(), "_tables", "create", s.ID)
	res.SendJSON(http.StatusCreated, schemaDocument(s))
}

// updateTableHandler migrates an existing entity to a new schema. Column
// changes come from the schema diff; a name change additionally renames
// the table, recomputes the derived id and swaps the route set
// atomically.
func (b *Backend) updateTableHandler(req *Request, res *Response) {
	b.mutationMutex.Lock()
	defer b.mutationMutex.Unlock()

	tables, _ := b.Entity("_tables")
	row, err := tables.QueryFromCols(req.Context(), req.Param("id"), []string{"id", "name"})
	if err != nil {
		b.sendEntityError(req, res, err)
		return
	}
	old, err := schemaFromRecord(row)
	if err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3122: corrupt schema row")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}
	if old.System {
		res.SendError(http.StatusBadRequest, fmt.Sprintf("system entity '%s' cannot be modified", old.Name))
		return
	}

	updated, err := parseSchemaBody(req.Body())
	if err != nil {
		res.SendError(http.StatusBadRequest, err.Error())
		return
	}
	updated.System = false
	renamed := updated.Name != old.Name
	if renamed {
		if reservedEntityName(updated.Name) {
			res.SendError(http.StatusBadRequest, fmt.Sprintf("entity name '%s' is reserved", updated.Name))
			return
		}
		if _, exists := b.Entity(updated.Name); exists || b.db.HasTable(updated.Name) {
			res.SendError(http.StatusBadRequest, fmt.Sprintf("entity '%s' already exists", updated.Name))
			return
		}
	}

	statements, err := schema.DiffDDL(old, updated, b.db.Dialect)
	if err != nil {
		res.SendError(http.StatusBadRequest, err.Error())
		return
	}
	// views are dropped and recreated under the new name by the diff
	if renamed && old.Type != schema.View {
		statements = append(statements, b.db.Dialect.RenameTable(old.Name, updated.Name))
	}

	// one transaction, so a failing statement leaves the table untouched;
	// mysql commits DDL implicitly and cannot roll back here
	tx, err := b.db.BeginTx(req.Context(), nil)
	if err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3123: schema migration failed")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}
	for _, stmt := range statements {
		if _, err = tx.ExecContext(req.Context(), stmt); err != nil {
			tx.Rollback()
			logger.FromContext(req.Context()).WithError(err).Errorln("Error 3123: schema migration failed")
			res.SendError(http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err = tx.Commit(); err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3123: schema migration failed")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}

	// the row id derives from the name, so a rename replaces the row; a
	// failure here renames the table back and restores the old row, the
	// metadata must never go missing
	if err = tables.Remove(req.Context(), old.ID); err != nil {
		b.revertTableName(req, old, updated)
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3124: cannot replace schema row")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}
	if err = b.saveSchemaRecord(req.Context(), updated); err != nil {
		b.saveSchemaRecord(req.Context(), old)
		b.revertTableName(req, old, updated)
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3124: cannot replace schema row")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}

	b.renameEntity(old.Name, entity.New(b.db, updated, b.store))
	b.updateEntityRoutes(old, updated)
	b.notifier.Notify(req.Context(), "_tables", "update", updated.ID)
	res.SendJSON(http.StatusOK, schemaDocument(updated))
}

// deleteTableHandler drops an entity: routes, runtime entity, metadata
// row, table and stored files.
func (b *Backend) deleteTableHandler(req *Request, res *Response) {
	b.mutationMutex.Lock()
	defer b.mutationMutex.Unlock()

	tables, _ := b.Entity("_tables")
	row, err := tables.QueryFromCols(req.Context(), req.Param("id"), []string{"id", "name"})
	if err != nil {
		b.sendEntityError(req, res, err)
		return
	}
	s, err := schemaFromRecord(row)
	if err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3125: corrupt schema row")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}
	if s.System {
		res.SendError(http.StatusBadRequest, fmt.Sprintf("system entity '%s' cannot be deleted", s.Name))
		return
	}

	if _, err = b.db.ExecContext(req.Context(), s.DropDDL(b.db.Dialect)); err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3126: cannot drop table")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}
	if err = tables.Remove(req.Context(), s.ID); err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3127: cannot remove schema row")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}
	if err = b.store.DeleteAll(s.Name); err != nil {
		logger.FromContext(req.Context()).WithError(err).Warnln("cannot remove stored files")
	}

	b.removeEntityRoutes(s)
	b.dropEntity(s.Name)
	b.notifier.Notify(req.Context(), "_tables", "delete", s.ID)
	res.SendEmpty()
}

// reservedEntityName reports whether a name cannot be used for a user
// entity. The "_" prefix marks system entities; the other names would
// collide with fixed routes under /api/v1/.
func reservedEntityName(name string) bool {
	if strings.HasPrefix(name, "_") {
		return true
	}
	switch name {
	case "settings", "healthcheck":
		return true
	}
	return false
}

// revertTableName undoes the physical rename of a failed migration so
// the restored metadata row matches the table again. Views are rebuilt
// by the diff and carry no data, they are not renamed back.
func (b *Backend) revertTableName(req *Request, old, updated *schema.Schema) {
	if old.Name == updated.Name || old.Type == schema.View {
		return
	}
	if _, err := b.db.ExecContext(req.Context(), b.db.Dialect.RenameTable(updated.Name, old.Name)); err != nil {
		logger.FromContext(req.Context()).WithError(err).Warnln("cannot rename table back")
	}
}

// parseSchemaBody validates a schema document against the meta schema
// and parses it.
func parseSchemaBody(raw []byte) (*schema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema document")
	}
	if err := validation.SchemaJSON(raw); err != nil {
		return nil, err
	}
	return schema.FromJSON(raw)
}

// saveSchemaRecord writes the _tables row of a schema.
func (b *Backend) saveSchemaRecord(ctx context.Context, s *schema.Schema) error {
	tables, _ := b.Entity("_tables")
	_, err := tables.Create(ctx, entity.Record{
		"id":      s.ID,
		"name":    s.Name,
		"type":    string(s.Type),
		"schema":  schemaDocument(s),
		"has_api": s.HasAPI,
	})
	return err
}

// schemaDocument renders a schema as the generic JSON object stored and
// returned by the _tables endpoints.
func schemaDocument(s *schema.Schema) map[string]interface{} {
	raw, _ := s.ToJSON()
	doc := map[string]interface{}{}
	json.Unmarshal(raw, &doc)
	return doc
}
