package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensorfleet/deploy-console/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, Token: "secret", Timeout: 2 * time.Second})
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestClient_Deploy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/devices/activities/deploy", r.URL.Path)
		assert.Equal(t, "aq_g5_87", r.URL.Query().Get("deviceName"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		assert.Equal(t, "Pole", body["mountType"])
		assert.Equal(t, 2.5, body["height"])
		assert.Equal(t, "Solar", body["powerType"])
		assert.Equal(t, "2024-05-01T08:30:00.000Z", body["date"])
		assert.Equal(t, true, body["isPrimaryInLocation"])
		assert.Equal(t, false, body["isUsedForCollocation"])
		assert.Equal(t, "site-1", body["site_id"])
		assert.Equal(t, "ops@example.org", body["userName"])
		assert.Equal(t, "u-1", body["user_id"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"successfully deployed the device"}`))
	})

	payload := DeployPayload{
		MountType:           "Pole",
		Height:              2.5,
		PowerType:           "Solar",
		Date:                FormatDate(time.Date(2024, 5, 1, 11, 30, 0, 0, time.FixedZone("EAT", 3*3600))),
		IsPrimaryInLocation: true,
		SiteID:              "site-1",
		Attribution:         AttributionFor(&models.Operator{UserID: "u-1", Email: "ops@example.org"}),
	}

	msg, err := c.Deploy(context.Background(), "aq_g5_87", payload)
	require.NoError(t, err)
	assert.True(t, msg.Success)
	assert.Equal(t, "successfully deployed the device", msg.Message)
}

func TestClient_DeployAnonymousOmitsAttribution(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.NotContains(t, body, "userName")
		assert.NotContains(t, body, "user_id")
		w.Write([]byte(`{"success":true}`))
	})

	_, err := c.Deploy(context.Background(), "aq_g5_87", DeployPayload{Attribution: AttributionFor(nil)})
	require.NoError(t, err)
}

func TestClient_DeployRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"bad request errors","errors":{"height":"height must be a number","site_id":{"msg":"site does not exist"}}}`))
	})

	_, err := c.Deploy(context.Background(), "aq_g5_87", DeployPayload{})
	require.Error(t, err)

	remote, ok := AsRemoteError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, remote.Status)
	assert.Equal(t, "bad request errors", remote.Message)
	assert.Equal(t, map[string]string{
		"height":  "height must be a number",
		"site_id": "site does not exist",
	}, remote.Fields)
	assert.False(t, errors.Is(err, ErrTransport))
}

func TestClient_RejectedWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Recall(context.Background(), "aq_g5_87", RecallPayload{RecallType: "errors"})

	remote, ok := AsRemoteError(err)
	require.True(t, ok)
	assert.Equal(t, "Internal Server Error", remote.Message)
	assert.Empty(t, remote.Fields)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url, Timeout: time.Second})

	_, err := c.Recall(context.Background(), "aq_g5_87", RecallPayload{RecallType: "errors"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_Recall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices/activities/recall", r.URL.Path)
		assert.Equal(t, "aq_g5_87", r.URL.Query().Get("deviceName"))
		body := decodeBody(t, r)
		assert.Equal(t, "disconnected", body["recallType"])
		w.Write([]byte(`{"success":true,"message":"recalled"}`))
	})

	msg, err := c.Recall(context.Background(), "aq_g5_87", RecallPayload{RecallType: "disconnected"})
	require.NoError(t, err)
	assert.Equal(t, "recalled", msg.Message)
}

func TestClient_DeployWithCoordinates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices/activities/deploy/coordinates", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "aq_g5_87", body["deviceName"])
		assert.Equal(t, "Makerere Hill", body["site_name"])
		assert.Equal(t, 0.334512, body["latitude"])
		assert.Equal(t, "airqo", body["network"])
		w.Write([]byte(`{"success":true,"message":"deployed"}`))
	})

	_, err := c.DeployWithCoordinates(context.Background(), CoordinateDeployPayload{
		DeviceName: "aq_g5_87",
		Latitude:   0.334512,
		Longitude:  32.567812,
		SiteName:   "Makerere Hill",
		Network:    "airqo",
	})
	require.NoError(t, err)
}

func TestClient_RecentFeed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices/feeds/recent/930434", r.URL.Path)
		w.Write([]byte(`{"isCache":false,"created_at":"2024-05-10T10:00:00.000Z","pm2_5":"12.5","latitude":"0","battery":3.9}`))
	})

	snapshot, err := c.RecentFeed(context.Background(), 930434)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC), snapshot.CreatedAt.UTC())
	assert.Equal(t, map[string]string{"pm2_5": "12.5", "latitude": "0", "battery": "3.9"}, snapshot.Channels)
}

func TestClient_ListDevicesAndSites(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "airqo", r.URL.Query().Get("network"))
		switch r.URL.Path {
		case "/devices/summary":
			w.Write([]byte(`{"success":true,"devices":[{"_id":"d1","name":"aq_g5_87","device_number":930434,"isActive":true}]}`))
		case "/devices/sites/summary":
			w.Write([]byte(`{"success":true,"sites":[{"_id":"s1","name":"Makerere"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	devices, err := c.ListDevices(context.Background(), "airqo")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, int64(930434), devices[0].DeviceNumber)
	assert.True(t, devices[0].IsActive)

	sites, err := c.ListSites(context.Background(), "airqo")
	require.NoError(t, err)
	assert.Equal(t, []models.Site{{ID: "s1", Name: "Makerere"}}, sites)
}
