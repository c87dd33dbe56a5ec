package geocoding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const (
	// MinQueryLength is the shortest query that triggers a forward search
	MinQueryLength = 3

	DefaultDebounce      = 300 * time.Millisecond
	DefaultSearchLimit   = 5
	DefaultLookupTimeout = 10 * time.Second

	// coordinates picked from a candidate are rounded to this many decimals
	selectDecimals = 6
)

const (
	MsgReverseFailed = "Could not resolve a site name, please enter it manually"
	MsgSearchFailed  = "Location search failed, please try again"
)

// ErrNoCandidate is returned by Select for an index outside the candidate list
var ErrNoCandidate = errors.New("no such candidate")

// Point is a latitude/longitude pair
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Candidate is a forward search result offered to the operator
type Candidate struct {
	Label     string  `json:"label"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Type      string  `json:"type,omitempty"`
}

// State is a snapshot of an assistant session. Version increases with every
// change so push consumers can drop out-of-order snapshots.
type State struct {
	Version    uint64      `json:"version"`
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
	Latitude   *float64    `json:"latitude,omitempty"`
	Longitude  *float64    `json:"longitude,omitempty"`
	Center     *Point      `json:"center,omitempty"`
	SiteName   string      `json:"siteName"`
	Busy       bool        `json:"busy"`
	Searching  bool        `json:"searching"`
	Error      string      `json:"error,omitempty"`
}

func (s State) clone() State {
	if s.Candidates != nil {
		s.Candidates = append([]Candidate(nil), s.Candidates...)
	}
	if s.Latitude != nil {
		lat := *s.Latitude
		s.Latitude = &lat
	}
	if s.Longitude != nil {
		lng := *s.Longitude
		s.Longitude = &lng
	}
	if s.Center != nil {
		c := *s.Center
		s.Center = &c
	}
	return s
}

// AssistantOption configures an Assistant
type AssistantOption func(*Assistant)

// WithDebounce sets the delay between the last keystroke and the search
func WithDebounce(d time.Duration) AssistantOption {
	return func(a *Assistant) { a.debounce = d }
}

// WithSearchLimit caps the number of candidates
func WithSearchLimit(n int) AssistantOption {
	return func(a *Assistant) { a.limit = n }
}

// WithLookupTimeout bounds every geocoder call
func WithLookupTimeout(d time.Duration) AssistantOption {
	return func(a *Assistant) { a.timeout = d }
}

// Assistant drives one interactive site-picking session: debounced forward
// search plus reverse lookups for map clicks, marker drags and selections.
type Assistant struct {
	geocoder Geocoder
	debounce time.Duration
	limit    int
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	timer      *time.Timer
	searchSeq  uint64
	reverseSeq uint64
	closed     bool
	listeners  []func(State)
}

// NewAssistant creates a session backed by geocoder
func NewAssistant(geocoder Geocoder, opts ...AssistantOption) *Assistant {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Assistant{
		geocoder: geocoder,
		debounce: DefaultDebounce,
		limit:    DefaultSearchLimit,
		timeout:  DefaultLookupTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnChange registers a listener called with a snapshot after every change
func (a *Assistant) OnChange(fn func(State)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// State returns the current snapshot
func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

// Busy reports whether a reverse lookup is in flight
func (a *Assistant) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Busy
}

// SetQuery records the search text and arms the debounced search
func (a *Assistant) SetQuery(q string) {
	a.update(func() bool {
		a.state.Query = q
		a.searchSeq++
		a.stopTimer()

		trimmed := strings.TrimSpace(q)
		if utf8.RuneCountInString(trimmed) < MinQueryLength {
			a.state.Candidates = nil
			a.state.Searching = false
			return true
		}

		seq := a.searchSeq
		a.timer = time.AfterFunc(a.debounce, func() { a.search(seq, trimmed) })
		return true
	})
}

// MapClick places the marker and resolves its site name
func (a *Assistant) MapClick(lat, lng float64) {
	a.update(func() bool {
		a.setLocation(lat, lng)
		return true
	})
	a.reverse(lat, lng)
}

// Drag moves the marker without resolving anything
func (a *Assistant) Drag(lat, lng float64) {
	a.update(func() bool {
		a.setLocation(lat, lng)
		return true
	})
}

// DragEnd drops the marker and resolves its site name once
func (a *Assistant) DragEnd(lat, lng float64) {
	a.MapClick(lat, lng)
}

// Select picks a candidate from the last search
func (a *Assistant) Select(i int) error {
	var lat, lng float64
	var err error

	a.update(func() bool {
		if i < 0 || i >= len(a.state.Candidates) {
			err = ErrNoCandidate
			return false
		}

		c := a.state.Candidates[i]
		lat, lng = round(c.Latitude, selectDecimals), round(c.Longitude, selectDecimals)
		a.setLocation(lat, lng)
		a.state.Center = &Point{Lat: lat, Lng: lng}
		a.state.Query = ""
		a.state.Candidates = nil
		a.state.Searching = false
		a.searchSeq++
		a.stopTimer()
		return true
	})
	if err != nil {
		return err
	}

	a.reverse(lat, lng)
	return nil
}

// SetSiteName overrides the resolved name with operator input
func (a *Assistant) SetSiteName(name string) {
	a.update(func() bool {
		a.state.SiteName = name
		return true
	})
}

// Close stops pending searches and discards in-flight results
func (a *Assistant) Close() {
	a.mu.Lock()
	a.closed = true
	a.stopTimer()
	a.listeners = nil
	a.mu.Unlock()

	a.cancel()
}

func (a *Assistant) search(seq uint64, query string) {
	ok := a.update(func() bool {
		if seq != a.searchSeq {
			return false
		}
		a.state.Searching = true
		return true
	})
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
	defer cancel()

	places, err := a.geocoder.Search(ctx, query, a.limit)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Forward geocoding failed")
	}

	a.update(func() bool {
		// a newer query or selection superseded this search
		if seq != a.searchSeq {
			return false
		}
		a.state.Searching = false
		if err != nil {
			a.state.Candidates = nil
			a.state.Error = MsgSearchFailed
			return true
		}

		a.state.Candidates = Candidates(places, a.limit)
		if a.state.Error == MsgSearchFailed {
			a.state.Error = ""
		}
		return true
	})
}

func (a *Assistant) reverse(lat, lng float64) {
	var seq uint64
	ok := a.update(func() bool {
		a.reverseSeq++
		seq = a.reverseSeq
		a.state.Busy = true
		return true
	})
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, a.timeout)
		defer cancel()

		place, err := a.geocoder.Reverse(ctx, lat, lng)
		if err != nil {
			log.Warn().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("Reverse geocoding failed")
		}

		a.update(func() bool {
			// only the latest lookup may clear Busy
			if seq != a.reverseSeq {
				return false
			}
			a.state.Busy = false
			if err != nil {
				a.state.SiteName = ""
				a.state.Error = MsgReverseFailed
				return true
			}
			a.state.SiteName = SiteLabel(place)
			a.state.Error = ""
			return true
		})
	}()
}

// update applies fn under the lock and notifies listeners when fn reports a
// change. It reports false when the session is closed or nothing changed.
func (a *Assistant) update(fn func() bool) bool {
	a.mu.Lock()
	if a.closed || !fn() {
		a.mu.Unlock()
		return false
	}
	a.state.Version++
	snapshot := a.state.clone()
	listeners := append(([]func(State))(nil), a.listeners...)
	a.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
	return true
}

func (a *Assistant) setLocation(lat, lng float64) {
	a.state.Latitude = &lat
	a.state.Longitude = &lng
}

func (a *Assistant) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Candidates converts places to pick-list entries, skipping places without
// usable coordinates
func Candidates(places []Place, limit int) []Candidate {
	out := make([]Candidate, 0, len(places))
	for i := range places {
		if limit > 0 && len(out) == limit {
			break
		}
		lat, lng, err := places[i].Coordinates()
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			Label:     places[i].DisplayName,
			Latitude:  lat,
			Longitude: lng,
			Type:      places[i].Type,
		})
	}
	return out
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
