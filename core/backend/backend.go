// Package backend ties schema, storage, routing, authorization and the
// request lifecycle together. A Backend materializes a REST route set for
// every entity recorded in the _tables metadata entity and keeps routes,
// the entity map and the settings cache synchronized across schema
// mutations.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/allankoechke/mantis-sub000/core/access"
	"github.com/allankoechke/mantis-sub000/core/blobs"
	"github.com/allankoechke/mantis-sub000/core/csql"
	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
)

// Backend is the mantis engine.
type Backend struct {
	config   Config
	db       *csql.DB
	store    blobs.Store
	jwt      *access.JWT
	router   *mux.Router
	registry *routeRegistry
	settings *settingsCache
	notifier *eventNotifier

	// mutationMutex serializes schema mutations; entityMutex guards the
	// name -> entity map shared with request handlers.
	mutationMutex sync.Mutex
	entityMutex   sync.RWMutex
	entities      map[string]*entity.Entity
}

// Builder assembles a Backend.
type Builder struct {
	// Config is the process configuration. Mandatory.
	Config Config
	// DB is the open database handle. Mandatory.
	DB *csql.DB
	// Router is the mux router routes are mounted on. Mandatory.
	Router *mux.Router
	// Store overrides the blob store; when nil, one is built from the
	// configuration.
	Store blobs.Store
}

// New realizes the backend: it runs the boot migration, materializes the
// entities recorded in _tables, and mounts all routes on the router.
func New(bb *Builder) (*Backend, error) {
	if bb.DB == nil {
		return nil, fmt.Errorf("DB is missing")
	}
	if bb.Router == nil {
		return nil, fmt.Errorf("Router is missing")
	}

	store := bb.Store
	if store == nil {
		var err error
		store, err = newStore(bb.Config)
		if err != nil {
			return nil, err
		}
	}

	b := &Backend{
		config:   bb.Config,
		db:       bb.DB,
		store:    store,
		jwt:      access.NewJWT(bb.Config.JWTSecret),
		router:   bb.Router,
		registry: newRouteRegistry(),
		entities: map[string]*entity.Entity{},
	}
	b.settings = newSettingsCache(b)
	b.notifier = newEventNotifier(bb.Config.KafkaBrokers)

	if err := b.bootstrap(); err != nil {
		return nil, err
	}
	b.handleRoutes()
	return b, nil
}

// Close releases the notifier. The database handle belongs to the
// caller.
func (b *Backend) Close() {
	b.notifier.Close()
}

// Entity returns the runtime entity for a name.
func (b *Backend) Entity(name string) (*entity.Entity, bool) {
	b.entityMutex.RLock()
	defer b.entityMutex.RUnlock()
	e, ok := b.entities[name]
	return e, ok
}

// EntityNames returns the names of all materialized entities.
func (b *Backend) EntityNames() []string {
	b.entityMutex.RLock()
	defer b.entityMutex.RUnlock()
	names := make([]string, 0, len(b.entities))
	for name := range b.entities {
		names = append(names, name)
	}
	return names
}

func (b *Backend) setEntity(e *entity.Entity) {
	b.entityMutex.Lock()
	defer b.entityMutex.Unlock()
	b.entities[e.Schema().Name] = e
}

func (b *Backend) dropEntity(name string) {
	b.entityMutex.Lock()
	defer b.entityMutex.Unlock()
	delete(b.entities, name)
}

func (b *Backend) renameEntity(oldName string, e *entity.Entity) {
	b.entityMutex.Lock()
	defer b.entityMutex.Unlock()
	delete(b.entities, oldName)
	b.entities[e.Schema().Name] = e
}

func newStore(config Config) (blobs.Store, error) {
	switch config.Blob.Driver {
	case "", "local":
		return blobs.NewLocalStore(config.DataDir + "/files")
	case "s3":
		return blobs.NewS3Store(context.Background(), config.Blob.S3Bucket, config.Blob.S3KeyPrefix)
	}
	return nil, fmt.Errorf("unknown blob driver '%s'", config.Blob.Driver)
}

// handleRoutes mounts the static mux surface: request logging, CORS,
// compression, the API dispatcher, the file endpoint, the admin SPA and
// the public directory.
func (b *Backend) handleRoutes() {
	nillog := logger.Default()
	nillog.Debugln("backend: handleRoutes")

	b.handleAccessLog()
	b.handleCORS()
	b.handleCompression()

	b.handleFiles()
	b.router.PathPrefix("/api/").HandlerFunc(b.dispatch)
	b.handleAdminSPA()
	b.handleStatic()
}

// dispatch is the single entry point for all /api/ routes. It resolves
// the registry route, runs the global and per-route middleware chains
// and synthesizes an envelope when the handler left the response empty.
func (b *Backend) dispatch(w http.ResponseWriter, r *http.Request) {
	req := &Request{Request: r, params: map[string]string{}, context: map[string]interface{}{}}
	res := &Response{w: w, r: r}

	rt, params, ok := b.registry.lookup(r.Method, r.URL.Path)
	if !ok {
		res.SendError(http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
		return
	}
	req.params = params
	req.bufferBody()

	for _, m := range b.globalMiddlewares() {
		if m(req, res) == Handled {
			return
		}
	}
	for _, m := range rt.middlewares {
		if m(req, res) == Handled {
			return
		}
	}
	rt.handler(req, res)

	if !res.written {
		// final error handler: a route that set only a status still
		// produces a well-formed envelope
		status := res.status
		if status == 0 {
			status = http.StatusOK
		}
		if status >= 400 {
			res.SendError(status, http.StatusText(status))
		} else {
			res.SendJSON(status, nil)
		}
	}
}

func (b *Backend) globalMiddlewares() []MiddlewareFunc {
	return []MiddlewareFunc{
		b.getAuthToken,
		b.hydrateContextData,
	}
}

// getAuthToken reads the bearer token and stores the decoded auth state
// in the request context. Requests without a token proceed as guests; a
// token that fails verification ends the request with the specific
// decode reason.
func (b *Backend) getAuthToken(req *Request, res *Response) Result {
	token := req.BearerToken()
	if token == "" {
		b.storeAuth(req, access.Guest())
		return Pending
	}
	result := b.jwt.Verify(token)
	if !result.Verified {
		res.SendError(http.StatusForbidden, result.Err.Error())
		return Handled
	}
	b.storeAuth(req, &access.Auth{
		Type:  access.TypeUser,
		Token: token,
		ID:    result.ID,
		Table: result.Table,
	})
	return Pending
}

// hydrateContextData resolves the token claims to the user row and
// stores the redacted record in the auth state. A token whose record is
// gone no longer authenticates.
func (b *Backend) hydrateContextData(req *Request, res *Response) Result {
	auth := access.AuthFromContext(req.Context())
	if auth.Type == access.TypeGuest {
		return Pending
	}
	e, ok := b.Entity(auth.Table)
	if !ok {
		res.SendError(http.StatusForbidden, fmt.Sprintf("token references unknown entity '%s'", auth.Table))
		return Handled
	}
	record, err := e.Read(req.Context(), auth.ID)
	if err != nil {
		res.SendError(http.StatusForbidden, "token does not resolve to a user")
		return Handled
	}
	auth.Record = record
	if auth.Table == access.AdminTable {
		auth.Type = access.TypeAdmin
	}
	b.storeAuth(req, auth)
	return Pending
}

func (b *Backend) storeAuth(req *Request, auth *access.Auth) {
	req.Set("auth", auth)
	ctx := access.ContextWithAuth(req.Context(), auth)
	req.Request = req.Request.WithContext(ctx)
}
