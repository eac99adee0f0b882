/*
Package client provides easy and fast in-process access to the mantis API.

Instead of marshalling HTTP over a socket, the client can talk directly to
the mux router. That makes it the tool of choice for unit tests; with a
base URL it works against a running server as well.
*/
package client

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/allankoechke/mantis-sub000/core/entity"
)

// Envelope is the decoded response body of an API call.
type Envelope struct {
	Status     int                `json:"status"`
	Error      string             `json:"error"`
	Data       json.RawMessage    `json:"data"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

// DecodeData unmarshals the data block into result.
func (e *Envelope) DecodeData(result interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, result)
}

// Client provides access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string

	defaultHeaders map[string]string
}

// NewWithRouter creates a client that makes pseudo-REST requests directly
// through the mux router.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client that makes REST requests to a running
// server.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithToken returns a new client carrying a bearer token.
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithHeader returns a new client with a default header added.
func (c Client) WithHeader(key, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	c.defaultHeaders = headers
	return c
}

// Get fetches a resource.
func (c Client) Get(path string) (int, *Envelope, error) {
	return c.do(http.MethodGet, path, nil, "")
}

// Post creates a resource from a JSON body.
func (c Client) Post(path string, body interface{}) (int, *Envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	return c.do(http.MethodPost, path, bytes.NewReader(data), "application/json")
}

// Patch updates a resource from a JSON body.
func (c Client) Patch(path string, body interface{}) (int, *Envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}
	return c.do(http.MethodPatch, path, bytes.NewReader(data), "application/json")
}

// Delete removes a resource.
func (c Client) Delete(path string) (int, *Envelope, error) {
	return c.do(http.MethodDelete, path, nil, "")
}

// Upload is one file part of a multipart request.
type Upload struct {
	Field   string
	Name    string
	Content []byte
}

// PostMultipart creates a resource from form fields and file uploads.
func (c Client) PostMultipart(path string, fields map[string]string, uploads []Upload) (int, *Envelope, error) {
	body, contentType, err := multipartBody(fields, uploads)
	if err != nil {
		return 0, nil, err
	}
	return c.do(http.MethodPost, path, body, contentType)
}

// PatchMultipart updates a resource from form fields and file uploads.
func (c Client) PatchMultipart(path string, fields map[string]string, uploads []Upload) (int, *Envelope, error) {
	body, contentType, err := multipartBody(fields, uploads)
	if err != nil {
		return 0, nil, err
	}
	return c.do(http.MethodPatch, path, body, contentType)
}

// GetBlob fetches raw content, e.g. an uploaded file.
func (c Client) GetBlob(path string) (int, []byte, error) {
	status, body, _, err := c.roundTrip(http.MethodGet, path, nil, "")
	return status, body, err
}

func multipartBody(fields map[string]string, uploads []Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	for _, u := range uploads {
		part, err := w.CreateFormFile(u.Field, u.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err = part.Write(u.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c Client) do(method, path string, body io.Reader, contentType string) (int, *Envelope, error) {
	status, resBody, _, err := c.roundTrip(method, path, body, contentType)
	if err != nil {
		return status, nil, err
	}
	if status == http.StatusNoContent || len(resBody) == 0 {
		return status, &Envelope{Status: status}, nil
	}
	var env Envelope
	if err = json.Unmarshal(resBody, &env); err != nil {
		return status, nil, fmt.Errorf("cannot decode response of %s %s: %v", method, path, err)
	}
	return status, &env, nil
}

func (c Client) roundTrip(method, path string, body io.Reader, contentType string) (int, []byte, http.Header, error) {
	r, err := http.NewRequest(method, c.url+path, body)
	if err != nil {
		return 0, nil, nil, err
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, rec.Body.Bytes(), res.Header, nil
	}

	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, resBody, res.Header, nil
}
