package backend

import (
	"strings"
	"sync"
)

type routeKey struct {
	method string
	path   string
}

type route struct {
	middlewares []MiddlewareFunc
	handler     HandlerFunc
}

// routeRegistry maps (method, path) tuples to handler chains. Dynamic
// entity routes register path patterns whose last segment may be ":id".
// The registry is read on every request and swapped atomically on schema
// mutations, which is why mux itself cannot hold these routes: mux
// cannot withdraw a route once registered.
type routeRegistry struct {
	mutex  sync.RWMutex
	routes map[routeKey]*route
}

func newRouteRegistry() *routeRegistry {
	return &routeRegistry{routes: map[routeKey]*route{}}
}

func (r *routeRegistry) add(method, path string, middlewares []MiddlewareFunc, handler HandlerFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.routes[routeKey{method, path}] = &route{middlewares: middlewares, handler: handler}
}

// swap withdraws and registers route sets under a single write lock, so
// concurrent requests observe either the full old set or the full new
// set, never a partial one.
func (r *routeRegistry) swap(withdraw []routeKey, register map[routeKey]*route) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, key := range withdraw {
		delete(r.routes, key)
	}
	for key, rt := range register {
		r.routes[key] = rt
	}
}

// lookup finds the route for a request path. An exact path match wins
// over the ":id" pattern of the same prefix.
func (r *routeRegistry) lookup(method, path string) (*route, map[string]string, bool) {
	path = strings.TrimSuffix(path, "/")

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if rt, ok := r.routes[routeKey{method, path}]; ok {
		return rt, map[string]string{}, true
	}

	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return nil, nil, false
	}
	pattern := path[:i] + "/:id"
	if rt, ok := r.routes[routeKey{method, pattern}]; ok {
		return rt, map[string]string{"id": path[i+1:]}, true
	}
	return nil, nil, false
}
