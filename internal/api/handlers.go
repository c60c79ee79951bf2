package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"cadence/internal/domain"
	"cadence/internal/ports"
	"cadence/internal/recurrence"
	"cadence/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Handler serves the admin endpoints.
type Handler struct {
	Admin *usecase.Admin
	Sync  *usecase.Synchronizer
	Q     ports.Queue
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/schedules", func(r chi.Router) {
		r.Post("/", h.createSchedule)
		r.Get("/due", h.dueSchedules)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getSchedule)
			r.Put("/recurrence", h.reschedule)
			r.Post("/pause", h.transition(h.Admin.Pause))
			r.Post("/resume", h.transition(h.Admin.Resume))
			r.Post("/cancel", h.transition(h.Admin.Cancel))
		})
	})

	r.Post("/sync", h.runSync)

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Get("/{id}", h.getJob)
	})
	return r
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var s domain.Schedule
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.ID = ""
	if err := h.Admin.Create(r.Context(), &s); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) dueSchedules(w http.ResponseWriter, r *http.Request) {
	due, err := h.Admin.DueToday(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, due)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := h.Admin.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request) {
	var rec usecase.Recurrence
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s, err := h.Admin.Reschedule(r.Context(), chi.URLParam(r, "id"), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) transition(fn func(ctx context.Context, id string) (*domain.Schedule, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.Sync.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

var jobStates = map[domain.TaskStatus]bool{
	domain.TaskWaiting:   true,
	domain.TaskDelayed:   true,
	domain.TaskActive:    true,
	domain.TaskCompleted: true,
	domain.TaskFailed:    true,
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	var states []domain.TaskStatus
	for _, s := range r.URL.Query()["state"] {
		st := domain.TaskStatus(s)
		if !jobStates[st] {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown job state " + s})
			return
		}
		states = append(states, st)
	}

	jobs, err := h.Q.ListJobs(r.Context(), states...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	t, err := h.Q.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, recurrence.ErrInvalidRule):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrInvalidTransition),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, usecase.ErrSyncInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
