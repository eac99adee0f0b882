package backend

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
	"github.com/allankoechke/mantis-sub000/core/schema"
)

// systemSchemas returns the three built-in entities: the schema
// metadata table, the admin accounts and the settings singleton.
func systemSchemas() []*schema.Schema {
	tables := schema.New("_tables", schema.Base)
	tables.System = true
	tables.Fields = append(tables.Fields,
		schema.Field{Name: "name", Type: "string", Required: true, Unique: true},
		schema.Field{Name: "type", Type: "string", Required: true},
		schema.Field{Name: "schema", Type: "json"},
		schema.Field{Name: "has_api", Type: "bool"},
	)

	admins := schema.New("_admins", schema.Auth)
	admins.System = true

	settings := schema.New("_settings", schema.Base)
	settings.System = true
	settings.Fields = append(settings.Fields,
		schema.Field{Name: "value", Type: "json"},
	)

	return []*schema.Schema{tables, admins, settings}
}

// bootstrap runs the boot migration: it creates missing system tables,
// materializes every entity recorded in _tables, loads the settings and
// registers all registry routes.
func (b *Backend) bootstrap() error {
	ctx, blog := logger.ContextWithLogger(context.Background())
	blog.Infoln("bootstrap: running boot migration")

	for _, s := range systemSchemas() {
		if !b.db.HasTable(s.Name) {
			blog.Infoln("bootstrap: creating system table", s.Name)
			ddl, err := s.CreateDDL(b.db.Dialect)
			if err != nil {
				return fmt.Errorf("cannot build DDL for '%s': %v", s.Name, err)
			}
			if _, err = b.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("cannot create system table '%s': %v", s.Name, err)
			}
		}
		b.setEntity(entity.New(b.db, s, b.store))
	}

	// the system entities have _tables rows like any other entity, so
	// the metadata stays the single source of truth
	tables, _ := b.Entity("_tables")
	for _, s := range systemSchemas() {
		if tables.Exists(ctx, s.ID) {
			continue
		}
		if err := b.saveSchemaRecord(ctx, s); err != nil {
			return fmt.Errorf("cannot persist system schema '%s': %v", s.Name, err)
		}
	}

	if err := b.loadUserEntities(ctx); err != nil {
		return err
	}
	if err := b.settings.load(ctx); err != nil {
		return err
	}

	b.addHealthcheckRoute()
	b.addSettingsRoutes()
	b.addTableRoutes()
	b.addEntityRoutes(b.mustSchema("_admins"))
	return nil
}

// loadUserEntities materializes the entities persisted in _tables and
// registers their routes. A corrupt row fails the boot, the metadata is
// the source of truth.
func (b *Backend) loadUserEntities(ctx context.Context) error {
	tables, _ := b.Entity("_tables")
	page := 1
	for {
		records, _, err := tables.List(ctx, entity.ListOptions{PageIndex: page, PerPage: 100})
		if err != nil {
			return fmt.Errorf("cannot list _tables: %v", err)
		}
		for _, record := range records {
			s, err := schemaFromRecord(record)
			if err != nil {
				return err
			}
			// system entities are materialized from code above
			if s.System {
				continue
			}
			b.setEntity(entity.New(b.db, s, b.store))
			b.addEntityRoutes(s)
		}
		if len(records) < 100 {
			return nil
		}
		page++
	}
}

// schemaFromRecord rebuilds a schema from its _tables row.
func schemaFromRecord(record entity.Record) (*schema.Schema, error) {
	raw, err := json.Marshal(record["schema"])
	if err != nil {
		return nil, fmt.Errorf("corrupt schema row '%v': %v", record["id"], err)
	}
	s, err := schema.FromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt schema row '%v': %v", record["id"], err)
	}
	return s, nil
}

func (b *Backend) mustSchema(name string) *schema.Schema {
	e, ok := b.Entity(name)
	if !ok {
		panic(fmt.Sprintf("system entity '%s' is not materialized", name))
	}
	return e.Schema()
}
