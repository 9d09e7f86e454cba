package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nudge/internal/dispatch"
	"nudge/internal/domain"
	"nudge/internal/identity"
	"nudge/internal/schedule"

	"github.com/go-chi/chi/v5"
)

type ScheduleHandler struct {
	Svc *schedule.Service
	Log *dispatch.Repo
}

type reminderSpecReq struct {
	Kind          string `json:"kind"`
	OffsetMinutes int    `json:"offsetMinutes"`
}

type upsertScheduleReq struct {
	JobID         uint64            `json:"jobId"`
	ScheduledAt   string            `json:"scheduledAt"` // RFC3339
	Timezone      string            `json:"timezone"`
	ReminderSpecs []reminderSpecReq `json:"reminderSpecs"`
}

type scheduleResp struct {
	ID            uint64                `json:"id"`
	JobID         uint64                `json:"jobId"`
	ScheduledAt   time.Time             `json:"scheduledAt"`
	Timezone      string                `json:"timezone"`
	ReminderSpecs []domain.ReminderSpec `json:"reminderSpecs"`
	Status        string                `json:"status"`
	NextFireAt    *time.Time            `json:"nextFireAt,omitempty"`
}

func toResp(s *schedule.Schedule) scheduleResp {
	return scheduleResp{
		ID:            s.ID,
		JobID:         s.JobID,
		ScheduledAt:   s.ScheduledAt,
		Timezone:      s.Timezone,
		ReminderSpecs: s.Specs,
		Status:        s.Status,
		NextFireAt:    s.NextFireAt,
	}
}

func (h *ScheduleHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	uid, _ := identity.UserIDFromContext(r.Context())

	var req upsertScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.JobID == 0 {
		http.Error(w, "jobId required", http.StatusBadRequest)
		return
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		http.Error(w, "invalid scheduledAt (RFC3339)", http.StatusBadRequest)
		return
	}

	specs := make([]domain.ReminderSpec, 0, len(req.ReminderSpecs))
	for _, sp := range req.ReminderSpecs {
		specs = append(specs, domain.ReminderSpec{
			Kind:          domain.Kind(strings.TrimSpace(sp.Kind)),
			OffsetMinutes: sp.OffsetMinutes,
		})
	}

	s, err := h.Svc.Upsert(r.Context(), uid, schedule.UpsertInput{
		JobID:       req.JobID,
		ScheduledAt: at,
		Timezone:    strings.TrimSpace(req.Timezone),
		Specs:       specs,
	})
	if err != nil {
		if errors.Is(err, schedule.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toResp(s))
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := identity.UserIDFromContext(r.Context())

	list, err := h.Svc.List(r.Context(), uid)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]scheduleResp, 0, len(list))
	for i := range list {
		out = append(out, toResp(&list[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := identity.UserIDFromContext(r.Context())

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s, err := h.Svc.Get(r.Context(), uid, id)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResp(s))
}

type setStatusReq struct {
	Status string `json:"status"`
}

func (h *ScheduleHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	uid, _ := identity.UserIDFromContext(r.Context())

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req setStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	s, err := h.Svc.SetStatus(r.Context(), uid, id, strings.TrimSpace(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, schedule.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, schedule.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, schedule.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toResp(s))
}

type dispatchResp struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Channel   string     `json:"channel"`
	Status    string     `json:"status"`
	Attempt   int        `json:"attempt"`
	PeriodKey *string    `json:"periodKey,omitempty"`
	Error     *string    `json:"error,omitempty"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// History returns the ordered dispatch ledger for one schedule's job,
// optionally narrowed with ?status=sent,failed.
func (h *ScheduleHandler) History(w http.ResponseWriter, r *http.Request) {
	uid, _ := identity.UserIDFromContext(r.Context())

	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s, err := h.Svc.Get(r.Context(), uid, id)
	if err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	var statuses []string
	if q := strings.TrimSpace(r.URL.Query().Get("status")); q != "" {
		for _, st := range strings.Split(q, ",") {
			st = strings.TrimSpace(st)
			if st != "" {
				statuses = append(statuses, st)
			}
		}
	}

	recs, err := h.Log.History(r.Context(), uid, s.JobID, statuses)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]dispatchResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, dispatchResp{
			ID:        rec.ID.String(),
			Kind:      rec.Kind,
			Channel:   rec.Channel,
			Status:    rec.Status,
			Attempt:   rec.Attempt,
			PeriodKey: rec.PeriodKey,
			Error:     rec.Error,
			SentAt:    rec.SentAt,
			ReadAt:    rec.ReadAt,
			CreatedAt: rec.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
