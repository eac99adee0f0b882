package backend

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/allankoechke/mantis-sub000/core/access"
	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
	"github.com/allankoechke/mantis-sub000/core/rules"
	"github.com/allankoechke/mantis-sub000/core/schema"
)

const apiBase = "/api/v1/"

// entityRoutes derives the route set of an entity. An entity with the
// API switched off gets no routes at all. Handlers close over the entity
// name only and resolve the runtime entity per request, so a schema
// update never leaves a stale closure behind.
func (b *Backend) entityRoutes(s *schema.Schema) map[routeKey]*route {
	if !s.HasAPI {
		return map[routeKey]*route{}
	}
	name := s.Name
	base := apiBase + name

	routes := map[routeKey]*route{
		{http.MethodGet, base}: {
			middlewares: []MiddlewareFunc{b.ruleMiddleware(name, schema.OperationList)},
			handler:     b.listHandler(name),
		},
		{http.MethodGet, base + "/:id"}: {
			middlewares: []MiddlewareFunc{b.ruleMiddleware(name, schema.OperationGet)},
			handler:     b.readHandler(name),
		},
	}
	if s.Type != schema.View {
		routes[routeKey{http.MethodPost, base}] = &route{
			middlewares: []MiddlewareFunc{b.ruleMiddleware(name, schema.OperationAdd)},
			handler:     b.createHandler(name),
		}
		routes[routeKey{http.MethodPatch, base + "/:id"}] = &route{
			middlewares: []MiddlewareFunc{b.ruleMiddleware(name, schema.OperationUpdate)},
			handler:     b.updateHandler(name),
		}
		routes[routeKey{http.MethodDelete, base + "/:id"}] = &route{
			middlewares: []MiddlewareFunc{b.ruleMiddleware(name, schema.OperationDelete)},
			handler:     b.deleteHandler(name),
		}
	}
	if s.Type == schema.Auth {
		routes[routeKey{http.MethodPost, base + "/auth-with-password"}] = &route{
			handler: b.authWithPasswordHandler(name),
		}
	}
	return routes
}

func entityRouteKeys(s *schema.Schema) []routeKey {
	base := apiBase + s.Name
	keys := []routeKey{
		{http.MethodGet, base},
		{http.MethodGet, base + "/:id"},
		{http.MethodPost, base},
		{http.MethodPatch, base + "/:id"},
		{http.MethodDelete, base + "/:id"},
		{http.MethodPost, base + "/auth-with-password"},
	}
	return keys
}

func (b *Backend) addEntityRoutes(s *schema.Schema) {
	logger.Default().Debugln("  handle entity routes:", apiBase+s.Name)
	for key, rt := range b.entityRoutes(s) {
		b.registry.add(key.method, key.path, rt.middlewares, rt.handler)
	}
}

func (b *Backend) removeEntityRoutes(s *schema.Schema) {
	b.registry.swap(entityRouteKeys(s), nil)
}

// updateEntityRoutes withdraws the route set of the old schema and
// registers the new one under a single registry write lock.
func (b *Backend) updateEntityRoutes(old, updated *schema.Schema) {
	b.registry.swap(entityRouteKeys(old), b.entityRoutes(updated))
}

// ruleMiddleware guards one operation of an entity. An empty rule means
// admin-only; otherwise the rule expression decides. Evaluation failures
// deny.
func (b *Backend) ruleMiddleware(name string, op schema.Operation) MiddlewareFunc {
	return func(req *Request, res *Response) Result {
		e, ok := b.Entity(name)
		if !ok {
			res.SendError(http.StatusNotFound, fmt.Sprintf("no such entity '%s'", name))
			return Handled
		}
		auth := access.AuthFromContext(req.Context())
		rule := e.Schema().Rule(op)

		if rules.IsEmpty(rule) {
			if auth.IsAdmin() {
				return Pending
			}
			res.SendError(http.StatusForbidden, "only admins can access this resource")
			return Handled
		}

		allowed, err := rules.Evaluate(rule, b.ruleEnv(req, auth))
		if err != nil {
			res.SendError(http.StatusForbidden, err.Error())
			return Handled
		}
		if !allowed {
			res.SendError(http.StatusForbidden, "you are not allowed to access this resource")
			return Handled
		}
		return Pending
	}
}

// ruleEnv builds the variable map handed to the rule engine.
func (b *Backend) ruleEnv(req *Request, auth *access.Auth) map[string]interface{} {
	remoteHost, remotePort, _ := net.SplitHostPort(req.RemoteAddr)
	reqEnv := map[string]interface{}{
		"remoteAddr": remoteHost,
		"remotePort": remotePort,
		"localAddr":  "",
		"localPort":  "",
	}
	if addr, ok := req.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		localHost, localPort, _ := net.SplitHostPort(addr.String())
		reqEnv["localAddr"] = localHost
		reqEnv["localPort"] = localPort
	}
	if body, err := req.BodyJSON(); err == nil && len(body) > 0 {
		reqEnv["body"] = body
	}
	return map[string]interface{}{
		"auth": auth.RuleEnv(),
		"req":  reqEnv,
	}
}

func (b *Backend) listHandler(name string) HandlerFunc {
	return func(req *Request, res *Response) {
		e, ok := b.Entity(name)
		if !ok {
			res.SendError(http.StatusNotFound, fmt.Sprintf("no such entity '%s'", name))
			return
		}
		opts, err := listOptionsFromQuery(req)
		if err != nil {
			res.SendError(http.StatusBadRequest, err.Error())
			return
		}
		records, pagination, err := e.List(req.Context(), opts)
		if err != nil {
			b.sendEntityError(req, res, err)
			return
		}
		res.SendPaginated(http.StatusOK, records, pagination)
	}
}

func listOptionsFromQuery(req *Request) (entity.ListOptions, error) {
	opts := entity.ListOptions{PageIndex: 1, PerPage: 30}
	query := req.URL.Query()
	var err error
	if v := query.Get("page_index"); v != "" {
		if opts.PageIndex, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("parameter 'page_index': %v", err)
		}
	}
	if v := query.Get("per_page"); v != "" {
		if opts.PerPage, err = strconv.Atoi(v); err != nil {
			return opts, fmt.Errorf("parameter 'per_page': %v", err)
		}
	}
	if v := query.Get("count_pages"); v != "" {
		if opts.CountPages, err = strconv.ParseBool(v); err != nil {
			return opts, fmt.Errorf("parameter 'count_pages': %v", err)
		}
	}
	return opts, nil
}

func (b *Backend) readHandler(name string) HandlerFunc {
	return func(req *Request, res *Response) {
		e, ok := b.Entity(name)
		if !ok {
			res.SendError(http.StatusNotFound, fmt.Sprintf("no such entity '%s'", name))
			return
		}
		record, err := e.Read(req.Context(), req.Param("id"))
		if err != nil {
			b.sendEntityError(req, res, err)
			return
		}
		res.SendJSON(http.StatusOK, record)
	}
}

func (b *Backend) createHandler(name string) HandlerFunc {
	return func(req *Request, res *Response) {
		e, ok := b.Entity(name)
		if !ok {
			res.SendError(http.StatusNotFound, fmt.Sprintf("no such entity '%s'", name))
			return
		}

		body, staged, err := b.readContent(req, e)
		if err != nil {
			res.SendError(http.StatusBadRequest, err.Error())
			return
		}
		// ids are server-generated, a client cannot pick its own
		delete(body, "id")
		if err = b.persistStaged(e, staged); err != nil {
			res.SendError(http.StatusInternalServerError, err.Error())
			return
		}

		record, err := e.Create(req.Context(), body)
		if err != nil {
			b.discardStaged(req, e, staged)
			b.sendEntityError(req, res, err)
			return
		}
		b.notifier.Notify(req.Context(), name, "create", stringValue(record["id"]))
		res.SendJSON(http.StatusCreated, record)
	}
}

func (b *Backend) updateHandler(name string) HandlerFunc {
	return func(req *Request, res *Response) {
		e, ok := b.Entity(name)
		if !ok {
			res.SendError(http.StatusNotFound, fmt.Sprintf("no such entity '%s'", name))
			return
		}

		body, staged, err := b.readContent(req, e)
		if err != nil {
			res.SendError(http.StatusBadRequest, err.Error())
			return
		}
		if err = b.persistStaged(e, staged); err != nil {
			res.SendError(http.StatusInternalServerError, err.Error())
			return
		}

		record, err := e.Update(req.Context(), req.Param("id"), body)
		if err != nil {
			b.discardStaged(req, e, staged)
			b.sendEntityError(req, res, err)
			return
		}
		b.notifier.Notify(req.Context(), name, "update", req.Param("id"))
		res.SendJSON(http.StatusOK, record)
	}
}

func (b *Backend) deleteHandler(name string) HandlerFunc {
	return func(req *Request, res *Response) {
		e, ok := b.Entity(name)
		if !ok {
			res.SendError(http.StatusNotFound, fmt.Sprintf("no such entity '%s'", name))
			return
		}
		if err := e.Remove(req.Context(), req.Param("id")); err != nil {
			b.sendEntityError(req, res, err)
			return
		}
		b.notifier.Notify(req.Context(), name, "delete", req.Param("id"))
		res.SendEmpty()
	}
}

// authWithPasswordHandler verifies credentials against an auth entity
// and issues a session token. The session length comes from the settings
// cache; admins get the shorter admin timeout.
func (b *Backend) authWithPasswordHandler(name string) HandlerFunc {
	return func(req *Request, res *Response) {
		e, ok := b.Entity(name)
		if !ok {
			res.SendError(http.StatusNotFound, fmt.Sprintf("no such entity '%s'", name))
			return
		}
		body, err := req.BodyJSON()
		if err != nil {
			res.SendError(http.StatusBadRequest, "invalid json data: "+err.Error())
			return
		}
		email, _ := body["email"].(string)
		password, _ := body["password"].(string)
		if email == "" || password == "" {
			res.SendError(http.StatusBadRequest, "email and password are required")
			return
		}

		record, err := e.AuthWithPassword(req.Context(), email, password)
		if err != nil {
			res.SendError(http.StatusForbidden, "invalid email or password")
			return
		}

		token, err := b.jwt.Create(stringValue(record["id"]), name, b.settings.SessionTimeout(name))
		if err != nil {
			logger.FromContext(req.Context()).WithError(err).Errorln("Error 3101: cannot issue token")
			res.SendError(http.StatusInternalServerError, "Error 3101")
			return
		}
		res.SendJSON(http.StatusOK, map[string]interface{}{
			"token":  token,
			"record": record,
		})
	}
}

func (b *Backend) sendEntityError(req *Request, res *Response, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		res.SendError(http.StatusNotFound, "record not found")
	case errors.Is(err, entity.ErrInvalidArgument):
		res.SendError(http.StatusBadRequest, trimErrorKind(err, entity.ErrInvalidArgument))
	case errors.Is(err, entity.ErrConflict):
		res.SendError(http.StatusBadRequest, err.Error())
	default:
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3100: entity operation failed")
		res.SendError(http.StatusInternalServerError, err.Error())
	}
}

// trimErrorKind strips the sentinel prefix so clients see the concrete
// reason, e.g. "title should be at least 3 chars long".
func trimErrorKind(err, kind error) string {
	msg := err.Error()
	prefix := kind.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
