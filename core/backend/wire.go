package backend

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
)

// envelope is the fixed response shape of every API endpoint.
type envelope struct {
	Status     int                `json:"status"`
	Error      string             `json:"error"`
	Data       interface{}        `json:"data"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

// Request wraps the raw HTTP request with path parameters and a
// per-request context map shared along the middleware chain.
type Request struct {
	*http.Request
	params  map[string]string
	context map[string]interface{}
	// body holds the buffered JSON body, when one was present
	body []byte
}

// Param returns a path parameter.
func (r *Request) Param(name string) string { return r.params[name] }

// Set stores a value in the per-request context map.
func (r *Request) Set(key string, value interface{}) { r.context[key] = value }

// Get returns a value from the per-request context map.
func (r *Request) Get(key string) (interface{}, bool) {
	v, ok := r.context[key]
	return v, ok
}

// GetOr returns the context value or a fallback.
func (r *Request) GetOr(key string, fallback interface{}) interface{} {
	if v, ok := r.context[key]; ok {
		return v
	}
	return fallback
}

// BearerToken extracts the token of an "Authorization: Bearer" header,
// or the empty string.
func (r *Request) BearerToken() string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) >= 8 && strings.EqualFold(bearer[:7], "bearer ") {
		return strings.TrimSpace(bearer[7:])
	}
	return ""
}

// IsMultipartFormData reports whether the request carries a multipart
// form body.
func (r *Request) IsMultipartFormData() bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// Body returns the buffered request body. JSON bodies are buffered by the
// dispatcher so both the rule engine and the handler can read them.
func (r *Request) Body() []byte { return r.body }

// BodyJSON decodes the buffered body into a record.
func (r *Request) BodyJSON() (map[string]interface{}, error) {
	body := map[string]interface{}{}
	if len(r.body) == 0 {
		return body, nil
	}
	err := json.Unmarshal(r.body, &body)
	return body, err
}

func (r *Request) bufferBody() {
	if r.Request.Body == nil || r.IsMultipartFormData() {
		return
	}
	data, err := io.ReadAll(r.Request.Body)
	if err != nil {
		return
	}
	r.Request.Body.Close()
	r.Request.Body = io.NopCloser(bytes.NewReader(data))
	r.body = data
}

// Response writes the JSON envelope. The status defaults to 200; a
// handler that never writes gets an empty envelope synthesized by the
// dispatcher.
type Response struct {
	w       http.ResponseWriter
	r       *http.Request
	status  int
	written bool
}

// SetStatus overrides the status for the synthesized envelope.
func (r *Response) SetStatus(code int) { r.status = code }

// SendJSON writes the envelope with the given payload.
func (r *Response) SendJSON(status int, data interface{}) {
	r.send(envelope{Status: status, Data: data})
}

// SendPaginated writes the envelope with a pagination block.
func (r *Response) SendPaginated(status int, data interface{}, p *entity.Pagination) {
	r.send(envelope{Status: status, Data: data, Pagination: p})
}

// SendError writes an error envelope.
func (r *Response) SendError(status int, message string) {
	r.send(envelope{Status: status, Error: message})
}

// SendEmpty writes an empty 204 response.
func (r *Response) SendEmpty() {
	if r.written {
		return
	}
	r.written = true
	r.w.WriteHeader(http.StatusNoContent)
}

// SetContent writes raw bytes with a mime type, outside the envelope.
// Used by the file and SPA endpoints.
func (r *Response) SetContent(data []byte, mimeType string) {
	if r.written {
		return
	}
	r.written = true
	r.w.Header().Set("Content-Type", mimeType)
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.w.WriteHeader(r.status)
	r.w.Write(data)
}

// SetFileContent streams a file from disk, deriving the mime type from
// the extension.
func (r *Response) SetFileContent(path string) {
	if r.written {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		r.SendError(http.StatusNotFound, "no such file")
		return
	}
	defer f.Close()
	r.StreamContent(f, mime.TypeByExtension(filepath.Ext(path)))
}

// StreamContent copies a reader to the response with a mime type.
func (r *Response) StreamContent(src io.Reader, mimeType string) {
	if r.written {
		return
	}
	r.written = true
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	r.w.Header().Set("Content-Type", mimeType)
	r.w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(r.w, src); err != nil {
		logger.FromContext(r.r.Context()).WithError(err).Warnln("aborted content write")
	}
}

func (r *Response) send(env envelope) {
	if r.written {
		return
	}
	r.written = true
	r.status = env.Status
	data, _ := json.MarshalWithOption(env, json.DisableHTMLEscape())
	r.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	r.w.WriteHeader(env.Status)
	r.w.Write(data)
}

// Result is the outcome of one middleware step. Handled short-circuits
// the chain.
type Result int

// Middleware results.
const (
	Pending Result = iota
	Handled
)

// MiddlewareFunc is one step of a route's middleware chain.
type MiddlewareFunc func(*Request, *Response) Result

// HandlerFunc terminates a route.
type HandlerFunc func(*Request, *Response)
