package geocoding

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDebounce = 20 * time.Millisecond
	waitFor      = time.Second
	tick         = 5 * time.Millisecond
)

func kampalaPlaces() []Place {
	return []Place{
		{DisplayName: "Kampala, Central Region, Uganda", Lat: "0.3475964", Lon: "32.5825197", Type: "city"},
		{DisplayName: "Kampala Road, Kampala, Uganda", Lat: "0.3136", Lon: "32.5811", Type: "road"},
	}
}

func TestAssistant_ShortQueryNeverSearches(t *testing.T) {
	geo := &fakeGeocoder{places: kampalaPlaces()}
	a := NewAssistant(geo, WithDebounce(testDebounce))
	defer a.Close()

	a.SetQuery("ka")
	a.SetQuery("  k ")

	time.Sleep(5 * testDebounce)
	assert.Empty(t, geo.searchCalls())
	assert.Empty(t, a.State().Candidates)
}

func TestAssistant_DebounceFiresOnlyLastQuery(t *testing.T) {
	geo := &fakeGeocoder{places: kampalaPlaces()}
	a := NewAssistant(geo, WithDebounce(testDebounce))
	defer a.Close()

	a.SetQuery("kam")
	a.SetQuery("kamp")
	a.SetQuery("kampala")

	require.Eventually(t, func() bool { return len(a.State().Candidates) == 2 }, waitFor, tick)
	time.Sleep(3 * testDebounce)

	calls := geo.searchCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "kampala", calls[0].query)
	assert.Equal(t, DefaultSearchLimit, calls[0].limit)

	state := a.State()
	assert.Equal(t, "Kampala, Central Region, Uganda", state.Candidates[0].Label)
	assert.InDelta(t, 0.3475964, state.Candidates[0].Latitude, 1e-9)
	assert.False(t, state.Searching)
}

func TestAssistant_ShortQueryClearsCandidates(t *testing.T) {
	geo := &fakeGeocoder{places: kampalaPlaces()}
	a := NewAssistant(geo, WithDebounce(testDebounce))
	defer a.Close()

	a.SetQuery("kampala")
	require.Eventually(t, func() bool { return len(a.State().Candidates) > 0 }, waitFor, tick)

	a.SetQuery("ka")
	assert.Empty(t, a.State().Candidates)
}

func TestAssistant_SearchLimit(t *testing.T) {
	places := make([]Place, 0, 8)
	for i := 0; i < 8; i++ {
		places = append(places, Place{DisplayName: "Place", Lat: "1.0", Lon: "2.0"})
	}
	geo := &fakeGeocoder{places: places}
	a := NewAssistant(geo, WithDebounce(testDebounce))
	defer a.Close()

	a.SetQuery("place")
	require.Eventually(t, func() bool { return len(a.State().Candidates) > 0 }, waitFor, tick)
	assert.Len(t, a.State().Candidates, DefaultSearchLimit)
}

func TestAssistant_SearchFailure(t *testing.T) {
	geo := &fakeGeocoder{searchErr: errors.New("boom")}
	a := NewAssistant(geo, WithDebounce(testDebounce))
	defer a.Close()

	a.SetQuery("kampala")
	require.Eventually(t, func() bool { return a.State().Error == MsgSearchFailed }, waitFor, tick)
	assert.Empty(t, a.State().Candidates)
	assert.Len(t, geo.searchCalls(), 1)
}

func TestAssistant_MapClickResolvesSiteName(t *testing.T) {
	gate := make(chan struct{})
	geo := &fakeGeocoder{
		reverseGate:  gate,
		reversePlace: &Place{DisplayName: "Makerere University, Kampala, Central Region, Uganda"},
	}
	a := NewAssistant(geo)
	defer a.Close()

	a.MapClick(0.3341, 32.5678)
	assert.True(t, a.Busy(), "site name input is disabled while resolving")

	close(gate)
	require.Eventually(t, func() bool { return !a.Busy() }, waitFor, tick)

	state := a.State()
	assert.Equal(t, "Makerere University, Kampala", state.SiteName)
	assert.Empty(t, state.Error)
	require.NotNil(t, state.Latitude)
	assert.Equal(t, 0.3341, *state.Latitude)
	assert.Equal(t, 32.5678, *state.Longitude)
}

func TestAssistant_ReverseFailure(t *testing.T) {
	geo := &fakeGeocoder{reverseErr: errors.New("timeout")}
	a := NewAssistant(geo)
	defer a.Close()

	a.SetSiteName("old name")
	a.MapClick(1, 2)

	require.Eventually(t, func() bool { return !a.Busy() }, waitFor, tick)
	state := a.State()
	assert.Empty(t, state.SiteName)
	assert.Equal(t, MsgReverseFailed, state.Error)
}

func TestAssistant_DragOnlyResolvesOnDragEnd(t *testing.T) {
	geo := &fakeGeocoder{reversePlace: &Place{DisplayName: "Ntinda, Kampala"}}
	a := NewAssistant(geo)
	defer a.Close()

	a.Drag(0.1, 32.1)
	a.Drag(0.2, 32.2)
	a.Drag(0.3, 32.3)
	assert.Empty(t, geo.reverseCalls())

	a.DragEnd(0.35, 32.35)
	require.Eventually(t, func() bool { return a.State().SiteName == "Ntinda, Kampala" }, waitFor, tick)
	assert.Equal(t, []Point{{Lat: 0.35, Lng: 32.35}}, geo.reverseCalls())
}

func TestAssistant_Select(t *testing.T) {
	geo := &fakeGeocoder{
		places: []Place{
			{DisplayName: "Wandegeya", Lat: "0.33123456789", Lon: "32.57198765432"},
		},
		reversePlace: &Place{DisplayName: "Wandegeya, Kampala, Uganda"},
	}
	a := NewAssistant(geo, WithDebounce(testDebounce))
	defer a.Close()

	a.SetQuery("wandegeya")
	require.Eventually(t, func() bool { return len(a.State().Candidates) == 1 }, waitFor, tick)

	require.NoError(t, a.Select(0))
	require.Eventually(t, func() bool { return a.State().SiteName != "" }, waitFor, tick)

	state := a.State()
	assert.Empty(t, state.Query)
	assert.Empty(t, state.Candidates)
	assert.Equal(t, 0.331235, *state.Latitude)
	assert.Equal(t, 32.571988, *state.Longitude)
	assert.Equal(t, &Point{Lat: 0.331235, Lng: 32.571988}, state.Center)
	assert.Equal(t, "Wandegeya, Kampala", state.SiteName)
	assert.Equal(t, []Point{{Lat: 0.331235, Lng: 32.571988}}, geo.reverseCalls())

	assert.ErrorIs(t, a.Select(3), ErrNoCandidate)
}

func TestAssistant_OnChangeVersions(t *testing.T) {
	geo := &fakeGeocoder{}
	a := NewAssistant(geo)
	defer a.Close()

	var versions []uint64
	a.OnChange(func(s State) { versions = append(versions, s.Version) })

	a.Drag(1, 1)
	a.SetSiteName("x")

	assert.Equal(t, []uint64{1, 2}, versions)
}

func TestAssistant_CloseStopsPendingSearch(t *testing.T) {
	geo := &fakeGeocoder{places: kampalaPlaces()}
	a := NewAssistant(geo, WithDebounce(testDebounce))

	a.SetQuery("kampala")
	a.Close()

	time.Sleep(5 * testDebounce)
	assert.Empty(t, geo.searchCalls())
}
