package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"jordanella.com/cost-ruler/internal/calibration"
	"jordanella.com/cost-ruler/internal/cv"
	"jordanella.com/cost-ruler/internal/estimator"
	"jordanella.com/cost-ruler/internal/logging"
	"jordanella.com/cost-ruler/internal/monitor"
	"jordanella.com/cost-ruler/internal/profile"
	"jordanella.com/cost-ruler/internal/ruler"
)

// Controller is the command surface the API drives; *ruler.Ruler
// implements it
type Controller interface {
	State() estimator.Snapshot
	Status() ruler.Status
	Health() monitor.Health
	Profiles() []*profile.Profile
	Profile(name string) (*profile.Profile, error)
	ActiveProfile() *profile.Profile
	ActivateProfile(name string) (*profile.Profile, error)
	RenameProfile(ctx context.Context, oldName, newName string) (*profile.Profile, error)
	DeleteProfile(ctx context.Context, name string) error
	StartCalibration(req calibration.Request) (string, error)
	CancelCalibration() error
	CalibrationStatus() calibration.Status
	ResetEstimator() estimator.Snapshot
	ToggleLap() (running bool, frames int)
}

// Handler exposes the ruler over HTTP
type Handler struct {
	ctl    Controller
	logger *logging.Logger
}

// NewHandler creates a handler over ctl
func NewHandler(ctl Controller) *Handler {
	return &Handler{ctl: ctl, logger: logging.NewLogger("api")}
}

type profileSummary struct {
	Name              string        `json:"name"`
	Key               string        `json:"key"`
	Resolution        cv.Resolution `json:"resolution"`
	CycleLengthFrames int           `json:"cycleLengthFrames"`
	Active            bool          `json:"active"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetState handles GET /state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctl.State())
}

// GetStatus handles GET /status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctl.Status())
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	health := h.ctl.Health()
	code := http.StatusOK
	if !health.Healthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, health)
}

// ListProfiles handles GET /profiles
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	active := h.ctl.ActiveProfile()
	list := h.ctl.Profiles()
	out := make([]profileSummary, 0, len(list))
	for _, p := range list {
		out = append(out, profileSummary{
			Name:              p.Name,
			Key:               p.Key(),
			Resolution:        p.Resolution,
			CycleLengthFrames: p.CycleLengthFrames,
			Active:            active != nil && active.Name == p.Name,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetProfile handles GET /profiles/{name}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.ctl.Profile(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// ActivateProfile handles PUT /profiles/{name}/active
func (h *Handler) ActivateProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.ctl.ActivateProfile(chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// RenameProfile handles PATCH /profiles/{name}. Body: {"name": "new"}
func (h *Handler) RenameProfile(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("invalid rename body: " + err.Error())
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}

	p, err := h.ctl.RenameProfile(r.Context(), chi.URLParam(r, "name"), req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// DeleteProfile handles DELETE /profiles/{name}
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.DeleteProfile(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCalibration handles GET /calibration
func (h *Handler) GetCalibration(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctl.CalibrationStatus())
}

// StartCalibration handles POST /calibration. Body is a calibration.Request;
// an empty body calibrates the default profile.
func (h *Handler) StartCalibration(w http.ResponseWriter, r *http.Request) {
	var req calibration.Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Debug("invalid calibration body: " + err.Error())
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
			return
		}
	}
	if req.SlowMotionFactor < 0 {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "slowMotionFactor must be positive"})
		return
	}

	if _, err := h.ctl.StartCalibration(req); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, h.ctl.CalibrationStatus())
}

// CancelCalibration handles DELETE /calibration
func (h *Handler) CancelCalibration(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.CancelCalibration(); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.ctl.CalibrationStatus())
}

// ResetEstimator handles POST /estimator/reset
func (h *Handler) ResetEstimator(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctl.ResetEstimator())
}

// ToggleLap handles POST /estimator/lap
func (h *Handler) ToggleLap(w http.ResponseWriter, r *http.Request) {
	running, frames := h.ctl.ToggleLap()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": running,
		"frames":  frames,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, profile.ErrExists),
		errors.Is(err, calibration.ErrSessionActive),
		errors.Is(err, calibration.ErrNoSession),
		errors.Is(err, calibration.ErrCommitting):
		return http.StatusConflict
	case errors.Is(err, profile.ErrInvalidProfile):
		return http.StatusBadRequest
	case errors.Is(err, cv.ErrUnsupportedResolution):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", err)
	}
	h.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to write response: " + err.Error())
	}
}
