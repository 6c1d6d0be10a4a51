package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prabinpebam/wan22-runpod/internal/adapter/runpod"
	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/infrastructure/logger"
)

type QueueService interface {
	Submit(ctx context.Context, sub domain.Submission) (*domain.Job, error)
	Cancel(ctx context.Context, id string, silent bool) error
	Retry(ctx context.Context, id string) (*domain.Job, error)
	ClearTerminal() int
	Jobs() []domain.Job
	Stats() domain.QueueStats
}

type SettingsService interface {
	APIConfig() domain.APIConfig
	SetAPIConfig(cfg domain.APIConfig) error
	Theme() string
	SetTheme(name string) error
}

type HealthService interface {
	Report() domain.HealthReport
}

type Handlers struct {
	queueSvc    QueueService
	settingsSvc SettingsService
	healthSvc   HealthService
}

func NewHandlers(queueSvc QueueService, settingsSvc SettingsService, healthSvc HealthService) *Handlers {
	return &Handlers{
		queueSvc:    queueSvc,
		settingsSvc: settingsSvc,
		healthSvc:   healthSvc,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// submitStatus maps a submission failure to the client-facing status
// code. Validation errors are the caller's fault; a missing API config
// and upstream rejections are not.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidImage), errors.Is(err, domain.ErrTooManyLoraPairs):
		return http.StatusBadRequest
	case errors.Is(err, runpod.ErrNotConfigured):
		return http.StatusConflict
	default:
		var apiErr *runpod.APIError
		if errors.As(err, &apiErr) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

func (h *Handlers) Generate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub domain.Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		job, err := h.queueSvc.Submit(r.Context(), sub)
		if err != nil {
			logger.Warn.Printf("generate request rejected: %v", err)
			writeError(w, submitStatus(err), err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, job)
	}
}

func (h *Handlers) Queue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := h.queueSvc.Jobs()
		if jobs == nil {
			jobs = []domain.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func (h *Handlers) QueueStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.queueSvc.Stats())
	}
}

func (h *Handlers) ClearQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed := h.queueSvc.ClearTerminal()
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func (h *Handlers) CancelJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := h.queueSvc.Cancel(r.Context(), id, false); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) RetryJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		job, err := h.queueSvc.Retry(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, domain.ErrNoRetryData):
				writeError(w, http.StatusConflict, err.Error())
			default:
				writeError(w, submitStatus(err), err.Error())
			}
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

type settingsResponse struct {
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"apiKey"`
	Configured bool   `json:"configured"`
}

// GetSettings never returns the stored credential; only a masked form
// suitable for display.
func (h *Handlers) GetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := h.settingsSvc.APIConfig()
		writeJSON(w, http.StatusOK, settingsResponse{
			Endpoint:   cfg.Endpoint,
			APIKey:     logger.RedactCredential(cfg.APIKey),
			Configured: cfg.Configured(),
		})
	}
}

func (h *Handlers) PutSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg domain.APIConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := h.settingsSvc.SetAPIConfig(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) GetTheme() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"theme": h.settingsSvc.Theme()})
	}
}

func (h *Handlers) PutTheme() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Theme string `json:"theme"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		name := strings.TrimSpace(body.Theme)
		if name != "light" && name != "dark" {
			writeError(w, http.StatusBadRequest, "theme must be light or dark")
			return
		}
		if err := h.settingsSvc.SetTheme(name); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.healthSvc.Report()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  report.Status,
			"workers": report.Workers,
			"healthy": report.Healthy(),
		})
	}
}

func (h *Handlers) Presets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"resolutions": domain.ResolutionPresets,
			"loraModels":  domain.LoraModels,
		})
	}
}
