package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"deepscan/internal/services"
)

// CodeResourceLimitExceeded is the error kind returned with 429.
const CodeResourceLimitExceeded = "resource_limit_exceeded"

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// writeClassified maps err onto a status code through the error taxonomy.
func writeClassified(w http.ResponseWriter, err error) {
	kind := services.Classify(err)
	status := http.StatusInternalServerError
	code := string(kind)
	switch kind {
	case services.KindValidation:
		status = http.StatusBadRequest
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindResourceLimit:
		status = http.StatusTooManyRequests
		code = CodeResourceLimitExceeded
	case services.KindConfiguration:
		status = http.StatusServiceUnavailable
	}
	if errors.Is(err, errUnauthorized) {
		status, code = http.StatusUnauthorized, "unauthorized"
	}
	writeError(w, status, code, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode body", "", err)
	}
	return nil
}

func unmarshalJSON(raw []byte, dst any) error {
	return json.Unmarshal(raw, dst)
}
