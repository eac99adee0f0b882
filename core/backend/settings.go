package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
	"github.com/allankoechke/mantis-sub000/core/schema"
)

// settingsID is the fixed row id of the application settings record in
// the _settings entity.
var settingsID = schema.IDFor("configs")

func defaultSettings() map[string]interface{} {
	return map[string]interface{}{
		"appName":                   "ACME Project",
		"baseUrl":                   "https://acme.example.com",
		"maintenanceMode":           false,
		"maxFileSize":               float64(10),
		"allowRegistration":         true,
		"emailVerificationRequired": false,
		"sessionTimeout":            float64(86400),
		"adminSessionTimeout":       float64(3600),
		"mode":                      "PROD",
	}
}

// settingsCache fronts the persisted application settings with an
// in-memory copy, so hot paths like token issuance never hit the
// database.
type settingsCache struct {
	backend *Backend
	mutex   sync.RWMutex
	values  map[string]interface{}
}

func newSettingsCache(b *Backend) *settingsCache {
	return &settingsCache{backend: b, values: defaultSettings()}
}

// load reads the settings row, creating it with defaults on first boot.
// Unknown keys survive a round trip; missing keys fall back to the
// defaults.
func (s *settingsCache) load(ctx context.Context) error {
	e, ok := s.backend.Entity("_settings")
	if !ok {
		return fmt.Errorf("settings entity is not materialized")
	}

	record, err := e.Read(ctx, settingsID)
	if errors.Is(err, entity.ErrNotFound) {
		_, err = e.Create(ctx, entity.Record{
			"id":    settingsID,
			"value": defaultSettings(),
		})
		if err != nil {
			return fmt.Errorf("cannot seed settings: %v", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot read settings: %v", err)
	}

	values, _ := record["value"].(map[string]interface{})
	s.mutex.Lock()
	for key, value := range values {
		s.values[key] = value
	}
	s.mutex.Unlock()
	return nil
}

// All returns a copy of the current settings.
func (s *settingsCache) All() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	values := make(map[string]interface{}, len(s.values))
	for key, value := range s.values {
		values[key] = value
	}
	return values
}

// Update merges a partial settings object, persists the result and
// refreshes the cache.
func (s *settingsCache) Update(ctx context.Context, patch map[string]interface{}) (map[string]interface{}, error) {
	e, ok := s.backend.Entity("_settings")
	if !ok {
		return nil, fmt.Errorf("settings entity is not materialized")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	merged := make(map[string]interface{}, len(s.values))
	for key, value := range s.values {
		merged[key] = value
	}
	for key, value := range patch {
		merged[key] = value
	}

	_, err := e.Update(ctx, settingsID, entity.Record{"value": merged})
	if err != nil {
		return nil, err
	}
	s.values = merged

	result := make(map[string]interface{}, len(merged))
	for key, value := range merged {
		result[key] = value
	}
	return result, nil
}

func (s *settingsCache) number(key string, fallback float64) float64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if v, ok := s.values[key].(float64); ok {
		return v
	}
	return fallback
}

// SessionTimeout returns the token lifetime for an auth entity. Admin
// sessions are shorter.
func (s *settingsCache) SessionTimeout(table string) time.Duration {
	if table == "_admins" {
		return time.Duration(s.number("adminSessionTimeout", 3600)) * time.Second
	}
	return time.Duration(s.number("sessionTimeout", 86400)) * time.Second
}

// MaxFileSize returns the upload size limit in bytes.
func (s *settingsCache) MaxFileSize() int64 {
	return int64(s.number("maxFileSize", 10)) << 20
}

func (b *Backend) addSettingsRoutes() {
	b.registry.add(http.MethodGet, "/api/v1/settings",
		[]MiddlewareFunc{b.requireAdmin}, b.getSettingsHandler)
	b.registry.add(http.MethodPatch, "/api/v1/settings",
		[]MiddlewareFunc{b.requireAdmin}, b.updateSettingsHandler)
}

func (b *Backend) getSettingsHandler(req *Request, res *Response) {
	res.SendJSON(http.StatusOK, b.settings.All())
}

func (b *Backend) updateSettingsHandler(req *Request, res *Response) {
	patch, err := req.BodyJSON()
	if err != nil {
		res.SendError(http.StatusBadRequest, "invalid json data: "+err.Error())
		return
	}
	updated, err := b.settings.Update(req.Context(), patch)
	if err != nil {
		logger.FromContext(req.Context()).WithError(err).Errorln("Error 3110: cannot update settings")
		res.SendError(http.StatusInternalServerError, err.Error())
		return
	}
	res.SendJSON(http.StatusOK, updated)
}
