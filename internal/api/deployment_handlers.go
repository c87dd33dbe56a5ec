package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sensorfleet/deploy-console/internal/models"
	"github.com/sensorfleet/deploy-console/internal/validation"
)

// HandleDeployNew deploys a device to a new site placed by coordinates
func (s *RESTServer) HandleDeployNew(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")

	var req models.WizardSubmission
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := s.controller.DeployNew(r.Context(), network, req, operatorFrom(r.Context()))
	s.respondView(w, view, err)
}

// HandleValidateWizard validates the wizard draft for one step
func (s *RESTServer) HandleValidateWizard(w http.ResponseWriter, r *http.Request) {
	step := validation.StepReview
	if v := r.URL.Query().Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < validation.StepDetails || n > validation.StepReview {
			s.respondError(w, http.StatusBadRequest, "invalid step")
			return
		}
		step = n
	}

	var req models.WizardSubmission
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	validator := s.controller.Validator()
	errs := validator.ValidateWizardStep(step, req)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"step":       step,
		"errors":     errs,
		"canAdvance": errs.Empty(),
		"canRetreat": validation.CanRetreat(step),
	})
}

// HandleHeightInput reports whether a keystroke may enter the height field
func (s *RESTServer) HandleHeightInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]bool{
		"accepted": validation.AcceptHeightInput(req.Value),
	})
}
