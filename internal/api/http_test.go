package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bilbercode/rtspd/internal/camera"
	"github.com/bilbercode/rtspd/internal/rtsp"
)

type staticCameras []camera.Source

func (s staticCameras) Sources() []camera.Source {
	return s
}

func TestSessionsEndpoint(t *testing.T) {
	store := rtsp.NewMemoryStore()
	created, err := store.Create(rtsp.Session{Camera: "front", Mode: rtsp.ModeUDP})
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer("", store, staticCameras{}).Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/sessions")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var body Sessions
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Len(t, body.Sessions, 1)
	require.Equal(t, created.ID, body.Sessions[0].ID)
	require.Equal(t, "front", body.Sessions[0].Camera)
	require.Equal(t, rtsp.ModeUDP, body.Sessions[0].Mode)
}

func TestEmptySessionsEncodeAsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer("", rtsp.NewMemoryStore(), staticCameras{}).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestCamerasEndpoint(t *testing.T) {
	cameras := staticCameras{
		{Name: "back", Video: "back.h264"},
		{Name: "front", Video: "front.h264", Audio: "front.aac", Loop: true},
	}
	rec := httptest.NewRecorder()
	NewServer("", rtsp.NewMemoryStore(), cameras).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cameras", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"cameras":[
		{"name":"back","video":"back.h264","loop":false},
		{"name":"front","video":"front.h264","audio":"front.aac","loop":true}
	]}`, rec.Body.String())
}

func TestOnlyGetIsAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer("", rtsp.NewMemoryStore(), staticCameras{}).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cameras", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer("", rtsp.NewMemoryStore(), staticCameras{}).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "rtspd_rtsp_sessions_active")
}
