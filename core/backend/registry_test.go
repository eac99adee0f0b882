package backend

import (
	"net/http"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	r := newRouteRegistry()
	noop := func(req *Request, res *Response) {}

	r.add(http.MethodGet, "/api/v1/posts", nil, noop)
	r.add(http.MethodGet, "/api/v1/posts/:id", nil, noop)

	if _, _, ok := r.lookup(http.MethodGet, "/api/v1/posts"); !ok {
		t.Fatal("exact match failed")
	}
	// trailing slashes are ignored
	if _, _, ok := r.lookup(http.MethodGet, "/api/v1/posts/"); !ok {
		t.Fatal("trailing slash match failed")
	}

	_, params, ok := r.lookup(http.MethodGet, "/api/v1/posts/abc123")
	if !ok {
		t.Fatal("pattern match failed")
	}
	if params["id"] != "abc123" {
		t.Fatal("id parameter not extracted:", params)
	}

	if _, _, ok = r.lookup(http.MethodPost, "/api/v1/posts"); ok {
		t.Fatal("method must be part of the key")
	}
	if _, _, ok = r.lookup(http.MethodGet, "/api/v1/users"); ok {
		t.Fatal("unknown path must not match")
	}
}

func TestRegistrySwapIsAtomicPerKeySet(t *testing.T) {
	r := newRouteRegistry()
	noop := func(req *Request, res *Response) {}

	r.add(http.MethodGet, "/api/v1/posts", nil, noop)
	r.add(http.MethodGet, "/api/v1/posts/:id", nil, noop)

	withdraw := []routeKey{
		{http.MethodGet, "/api/v1/posts"},
		{http.MethodGet, "/api/v1/posts/:id"},
	}
	register := map[routeKey]*route{
		{http.MethodGet, "/api/v1/articles"}:     {handler: noop},
		{http.MethodGet, "/api/v1/articles/:id"}: {handler: noop},
	}
	r.swap(withdraw, register)

	if _, _, ok := r.lookup(http.MethodGet, "/api/v1/posts"); ok {
		t.Fatal("old route survived the swap")
	}
	if _, _, ok := r.lookup(http.MethodGet, "/api/v1/articles/x"); !ok {
		t.Fatal("new route missing after the swap")
	}

	// swap with nil register withdraws only
	r.swap([]routeKey{{http.MethodGet, "/api/v1/articles"}}, nil)
	if _, _, ok := r.lookup(http.MethodGet, "/api/v1/articles"); ok {
		t.Fatal("withdraw-only swap failed")
	}
}
