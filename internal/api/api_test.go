package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/metrics"
	"jordanella.com/cost-ruler/internal/profile"
	"jordanella.com/cost-ruler/internal/ruler"
)

var hd = cv.Resolution{Width: 1920, Height: 1080}

type idleSource struct{}

func (idleSource) Next(ctx context.Context) (cv.Frame, error) {
	<-ctx.Done()
	return cv.Frame{}, ctx.Err()
}

func newTestRouter(t *testing.T) (*chi.Mux, *ruler.Ruler) {
	t.Helper()
	store := profile.NewStore(nil)
	ctx := context.Background()
	require.NoError(t, store.Commit(ctx, profile.Linear("slow", hd, 60)))
	require.NoError(t, store.CommitAndActivate(ctx, profile.Linear("fast", hd, 30)))

	m := metrics.New()
	r, err := ruler.New(ruler.Options{
		Source:    idleSource{},
		Store:     store,
		Estimator: estimator.New(estimator.DefaultConfig()),
		Engine:    calibration.NewEngine(calibration.DefaultConfig(), store),
		Metrics:   m,
	})
	require.NoError(t, err)
	return NewRouter(NewHandler(r), nil, m), r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestGetState(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var state map[string]interface{}
	decode(t, rec, &state)
	assert.Equal(t, false, state["isRunning"])
	assert.Nil(t, state["currentFrame"])
	assert.Equal(t, "fast", state["activeProfile"])
	assert.Contains(t, state, "totalElapsedFrames")
	assert.Contains(t, state, "totalFramesInCycle")
}

func TestListProfiles(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []profileSummary
	decode(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "fast", list[0].Name)
	assert.True(t, list[0].Active)
	assert.Equal(t, "fast_30f_1920x1080", list[0].Key)
	assert.Equal(t, "slow", list[1].Name)
	assert.False(t, list[1].Active)
}

func TestGetProfile(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/profiles/slow", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p profile.Profile
	decode(t, rec, &p)
	assert.Equal(t, 60, p.CycleLengthFrames)
	assert.Len(t, p.Breakpoints, 60)

	rec = do(t, router, http.MethodGet, "/profiles/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivateProfile(t *testing.T) {
	router, r := newTestRouter(t)

	rec := do(t, router, http.MethodPut, "/profiles/slow/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "slow", r.ActiveProfile().Name)
	assert.Equal(t, "slow", *r.State().ActiveProfile)

	rec = do(t, router, http.MethodPut, "/profiles/missing/active", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "slow", r.ActiveProfile().Name)
}

func TestRenameProfile(t *testing.T) {
	router, r := newTestRouter(t)

	rec := do(t, router, http.MethodPatch, "/profiles/fast", `{"name":"quick"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "quick", r.ActiveProfile().Name)

	rec = do(t, router, http.MethodPatch, "/profiles/quick", `{"name":"slow"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPatch, "/profiles/quick", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPatch, "/profiles/quick", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteProfile(t *testing.T) {
	router, r := newTestRouter(t)

	rec := do(t, router, http.MethodDelete, "/profiles/fast", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, r.ActiveProfile())

	rec = do(t, router, http.MethodDelete, "/profiles/fast", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalibrationLifecycle(t *testing.T) {
	router, r := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/calibration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)

	// No frame captured yet and no explicit resolution
	rec = do(t, router, http.MethodPost, "/calibration", `{"name":"fresh"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := `{"name":"fresh","slowMotionFactor":2,"resolution":{"width":1920,"height":1080}}`
	rec = do(t, router, http.MethodPost, "/calibration", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var status calibration.Status
	decode(t, rec, &status)
	assert.Equal(t, calibration.StateArmed, status.State)
	assert.NotEmpty(t, status.SessionID)
	assert.Equal(t, "fresh", status.Name)

	rec = do(t, router, http.MethodPost, "/calibration", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodDelete, "/calibration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, calibration.StateIdle, r.CalibrationStatus().State)
	require.NotNil(t, r.CalibrationStatus().Last)
	assert.Equal(t, calibration.ReasonCancelled, r.CalibrationStatus().Last.Reason)

	rec = do(t, router, http.MethodDelete, "/calibration", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCalibrationRejectsNegativeSlowMotion(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/calibration", `{"slowMotionFactor":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEstimatorCommands(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/estimator/lap", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":true,"frames":0}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/estimator/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state map[string]interface{}
	decode(t, rec, &state)
	assert.Equal(t, float64(0), state["totalElapsedFrames"])
	assert.Nil(t, state["lapFrames"])
}

func TestHealthzAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)

	rec = do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `ruler_http_requests_total{code="2xx"}`))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{profile.ErrNotFound, http.StatusNotFound},
		{profile.ErrExists, http.StatusConflict},
		{profile.ErrInvalidProfile, http.StatusBadRequest},
		{calibration.ErrSessionActive, http.StatusConflict},
		{calibration.ErrCommitting, http.StatusConflict},
		{cv.ErrUnsupportedResolution, http.StatusUnprocessableEntity},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, statusFor(tc.err), tc.err.Error())
	}
}
