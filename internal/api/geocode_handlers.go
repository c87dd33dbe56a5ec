package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/sensorfleet/deploy-console/internal/geocoding"
)

// HandleGeocodeSearch runs a single forward search without debounce
func (s *RESTServer) HandleGeocodeSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if utf8.RuneCountInString(query) < geocoding.MinQueryLength {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"candidates": []geocoding.Candidate{},
		})
		return
	}

	limit := s.config.Geocoder.SearchLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v < limit {
		limit = v
	}

	places, err := s.geocoder.Search(r.Context(), query, limit)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Forward geocoding failed")
		s.respondError(w, http.StatusBadGateway, geocoding.MsgSearchFailed)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": geocoding.Candidates(places, limit),
	})
}

// HandleGeocodeReverse resolves a site name for a point
func (s *RESTServer) HandleGeocodeReverse(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		s.respondError(w, http.StatusBadRequest, "invalid lat")
		return
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil || lng < -180 || lng > 180 {
		s.respondError(w, http.StatusBadRequest, "invalid lng")
		return
	}

	place, err := s.geocoder.Reverse(r.Context(), lat, lng)
	if err != nil {
		if errors.Is(err, geocoding.ErrNoResult) {
			s.respondError(w, http.StatusNotFound, geocoding.MsgReverseFailed)
			return
		}
		log.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("Reverse geocoding failed")
		s.respondError(w, http.StatusBadGateway, geocoding.MsgReverseFailed)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"latitude":  lat,
		"longitude": lng,
		"siteName":  geocoding.SiteLabel(place),
		"place":     place,
	})
}
