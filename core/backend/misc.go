package backend

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/allankoechke/mantis-sub000/core/access"
	"github.com/allankoechke/mantis-sub000/core/backend/adminui"
	"github.com/allankoechke/mantis-sub000/core/blobs"
	"github.com/allankoechke/mantis-sub000/core/logger"
)

// requireAdmin guards routes that only authenticated admins may use.
func (b *Backend) requireAdmin(req *Request, res *Response) Result {
	auth := access.AuthFromContext(req.Context())
	if !auth.IsAdmin() {
		res.SendError(http.StatusForbidden, "only admins can access this resource")
		return Handled
	}
	return Pending
}

func (b *Backend) addHealthcheckRoute() {
	b.registry.add(http.MethodGet, "/api/v1/healthcheck", nil,
		func(req *Request, res *Response) {
			res.SendJSON(http.StatusOK, map[string]interface{}{"status": "ok"})
		})
}

// handleFiles serves uploaded files. The route lives on the mux router
// because it carries two path parameters, unlike the registry's
// single-:id patterns.
func (b *Backend) handleFiles() {
	b.router.HandleFunc("/api/files/{entity}/{file}", func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		res := &Response{w: w, r: r}

		name := blobs.Sanitize(params["file"])
		src, err := b.store.Get(params["entity"], name)
		if err != nil {
			res.SendError(http.StatusNotFound, "no such file")
			return
		}
		defer src.Close()
		res.StreamContent(src, mimeTypeFor(name))
	}).Methods(http.MethodGet)
}

func mimeTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	}
	return "application/octet-stream"
}

// handleAdminSPA mounts the embedded admin dashboard at /admin. Unknown
// paths below the prefix fall back to index.html so client-side routing
// works.
func (b *Backend) handleAdminSPA() {
	fs := http.FileServer(http.FS(adminui.Dist()))
	b.router.PathPrefix("/admin").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/admin")
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			path = "index.html"
		}
		if _, err := adminui.Dist().Open(path); err != nil {
			path = "index.html"
		}
		r.URL.Path = "/" + path
		fs.ServeHTTP(w, r)
	}))
}

// handleStatic serves the public directory at the root, when it exists.
func (b *Backend) handleStatic() {
	info, err := os.Stat(b.config.PublicDir)
	if err != nil || !info.IsDir() {
		return
	}
	b.router.PathPrefix("/").Handler(http.FileServer(http.Dir(b.config.PublicDir)))
}

// handleCORS adds the cross-origin headers to every response and
// answers preflight requests directly.
func (b *Backend) handleCORS() {
	b.router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			h.ServeHTTP(w, r)
		})
	})
}

// handleCompression compresses responses when the client accepts it.
func (b *Backend) handleCompression() {
	b.router.Use(func(h http.Handler) http.Handler {
		return handlers.CompressHandler(h)
	})
}

// statusRecorder captures the status code and a copy of the body so the
// access log can report error payloads.
type statusRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(data)
	return r.ResponseWriter.Write(data)
}

// handleAccessLog attaches a request-scoped logger and writes one line
// per request. Failed requests log the response body as well, inflating
// it first when the compression middleware got to it.
func (b *Backend) handleAccessLog() {
	b.router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, rlog := logger.ContextWithLogger(r.Context())
			recorder := &statusRecorder{ResponseWriter: w, status: 0}

			h.ServeHTTP(recorder, r.WithContext(ctx))

			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start).Milliseconds()
			line := rlog.WithField("elapsed_ms", elapsed)
			if status >= 400 {
				line.Warnf("%s %s -> %d %s", r.Method, r.URL.Path, status,
					decodeBody(recorder.body.Bytes(), w.Header().Get("Content-Encoding")))
			} else {
				line.Infof("%s %s -> %d", r.Method, r.URL.Path, status)
			}
		})
	})
}

// decodeBody inflates a compressed response body for logging. The
// compression middleware negotiates only gzip and deflate, so any other
// encoding passes through verbatim.
func decodeBody(data []byte, encoding string) string {
	var src io.Reader = bytes.NewReader(data)
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(src)
		if err != nil {
			return string(data)
		}
		defer gz.Close()
		src = gz
	case "deflate":
		fl := flate.NewReader(src)
		defer fl.Close()
		src = fl
	default:
		return string(data)
	}
	decoded, err := io.ReadAll(src)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}
