package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/lifecycle"
	"github.com/sensorfleet/deploy-console/internal/registry"
)

// ========== Helper methods ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondView writes the outcome of a lifecycle operation. Failures carry the
// device view too, so the form can show field errors and the banner.
func (s *RESTServer) respondView(w http.ResponseWriter, view lifecycle.DeviceView, err error) {
	if err == nil {
		s.respondJSON(w, http.StatusOK, view)
		return
	}

	status, message := lifecycleStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.Error().Err(err).Str("network", view.Network).Msg("Lifecycle operation failed")
	}

	s.respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"errors": view.Errors,
		"view":   view,
	})
}

// lifecycleStatus maps an operation error to an HTTP status and message
func lifecycleStatus(err error) (int, string) {
	if remote, ok := registry.AsRemoteError(err); ok {
		status := remote.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		return status, remote.Message
	}

	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, registry.ErrTransport):
		return http.StatusBadGateway, lifecycle.MsgConnectivity
	case errors.Is(err, lifecycle.ErrOperationInFlight),
		errors.Is(err, lifecycle.ErrAlreadyDeployed),
		errors.Is(err, lifecycle.ErrNotDeployed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, lifecycle.ErrNotConfirmed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, lifecycle.ErrDeviceNotFound):
		return http.StatusNotFound, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// decodeJSON reads a request body into v
func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
