package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"deepscan/internal/embedcache"
	"deepscan/internal/logging"
	"deepscan/internal/services"
)

func (s *Server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusOK, CacheKeysResponse{Keys: []string{}})
		return
	}
	pattern := strings.TrimSpace(r.URL.Query().Get("pattern"))
	if pattern == "" {
		pattern = "*"
	}
	keys, err := s.cache.Keys(pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(services.KindValidation), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CacheKeysResponse{Pattern: pattern, Keys: keys})
}

// handleCacheInvalidate requires an explicit pattern so a bare DELETE
// cannot empty the cache.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := strings.TrimSpace(r.URL.Query().Get("pattern"))
	if pattern == "" {
		writeError(w, http.StatusBadRequest, string(services.KindValidation), "pattern query parameter is required")
		return
	}
	if s.cache == nil {
		writeJSON(w, http.StatusOK, InvalidateResponse{Pattern: pattern})
		return
	}
	removed, err := s.cache.Invalidate(pattern)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(services.KindValidation), err.Error())
		return
	}
	logging.WithContext(r.Context(), s.logger).Info("cache invalidated",
		logging.String("pattern", pattern),
		logging.Int("removed", removed),
		logging.String(logging.FieldEventType, "cache_invalidated"),
	)
	writeJSON(w, http.StatusOK, InvalidateResponse{Pattern: pattern, Removed: removed})
}

func (s *Server) handleCacheParse(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("key"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, string(services.KindValidation), "key query parameter is required")
		return
	}
	key, err := embedcache.ParseKey(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(services.KindValidation), err.Error())
		return
	}
	parsed, err := json.Marshal(key)
	if err != nil {
		writeClassified(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ParsedKeyResponse{Key: key.String(), Class: string(key.Class()), Parsed: parsed})
}
