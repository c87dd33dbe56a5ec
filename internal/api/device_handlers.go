package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sensorfleet/deploy-console/internal/lifecycle"
	"github.com/sensorfleet/deploy-console/internal/models"
	"github.com/sensorfleet/deploy-console/internal/storage"
)

// HandleListDevices lists the cached devices of a network
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")

	devices, err := s.fleet.Devices(r.Context(), network)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   len(devices),
	})
}

// HandleListSites lists the cached sites of a network
func (s *RESTServer) HandleListSites(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")

	sites, err := s.fleet.Sites(r.Context(), network)
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sites": sites,
		"total": len(sites),
	})
}

// HandleGetDevice returns the deploy status view of a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	name := chi.URLParam(r, "name")

	view, err := s.controller.View(r.Context(), network, name)
	if err != nil {
		status, message := lifecycleStatus(err)
		s.respondError(w, status, message)
		return
	}

	s.respondJSON(w, http.StatusOK, view)
}

// HandleDeploy deploys an existing device to a registered site
func (s *RESTServer) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	name := chi.URLParam(r, "name")

	var req models.Submission
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := s.controller.Deploy(r.Context(), network, name, req, operatorFrom(r.Context()))
	s.respondView(w, view, err)
}

// HandleRecall recalls a deployed device. The confirmation dialog is answered
// by echoing the device name in confirm.
func (s *RESTServer) HandleRecall(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	name := chi.URLParam(r, "name")

	var req struct {
		RecallType string `json:"recallType"`
		Confirm    string `json:"confirm"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	confirmer := lifecycle.ConfirmFunc(func(ctx context.Context, prompt lifecycle.Prompt) bool {
		return req.Confirm == prompt.DeviceName
	})

	view, err := s.controller.Recall(r.Context(), network, name, req.RecallType, confirmer, operatorFrom(r.Context()))
	s.respondView(w, view, err)
}

// HandleHealthTest runs the telemetry health test of a device
func (s *RESTServer) HandleHealthTest(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	name := chi.URLParam(r, "name")

	view, err := s.controller.RunHealthTest(r.Context(), network, name)
	s.respondView(w, view, err)
}

// HandleCancel discards the draft state of a device form
func (s *RESTServer) HandleCancel(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	name := chi.URLParam(r, "name")

	s.controller.Cancel(network, name)
	w.WriteHeader(http.StatusNoContent)
}

// HandleListActivities lists the lifecycle activity log of a device
func (s *RESTServer) HandleListActivities(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	name := chi.URLParam(r, "name")
	query := r.URL.Query()

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(query.Get("offset"))

	filters := storage.ActivityFilters{
		Network:    &network,
		DeviceName: &name,
	}
	if t := query.Get("type"); t != "" {
		activityType := models.ActivityType(t)
		filters.Type = &activityType
	}
	if l := query.Get("level"); l != "" {
		level := models.ActivityLevel(l)
		filters.Level = &level
	}
	if v := query.Get("start_time"); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		filters.StartTime = &start
	}
	if v := query.Get("end_time"); v != "" {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		filters.EndTime = &end
	}

	activities, total, err := s.store.ListActivities(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"activities": activities,
		"total":      total,
	})
}
