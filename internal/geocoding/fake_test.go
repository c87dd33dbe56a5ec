package geocoding

import (
	"context"
	"sync"
)

type searchCall struct {
	query string
	limit int
}

type fakeGeocoder struct {
	mu           sync.Mutex
	searches     []searchCall
	reverses     []Point
	places       []Place
	searchErr    error
	reversePlace *Place
	reverseErr   error

	// when set, Reverse blocks until the channel is closed
	reverseGate chan struct{}
}

func (f *fakeGeocoder) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, searchCall{query: query, limit: limit})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.places, nil
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	f.mu.Lock()
	f.reverses = append(f.reverses, Point{Lat: lat, Lng: lng})
	gate := f.reverseGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reverseErr != nil {
		return nil, f.reverseErr
	}
	return f.reversePlace, nil
}

func (f *fakeGeocoder) searchCalls() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchCall(nil), f.searches...)
}

func (f *fakeGeocoder) reverseCalls() []Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Point(nil), f.reverses...)
}
