package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"nudge/internal/dispatch"
	"nudge/internal/identity"

	"github.com/google/uuid"
)

type ReceiptHandler struct {
	Log *dispatch.Repo
}

type readReceiptReq struct {
	DispatchID string `json:"dispatchId"`
}

// MarkRead ingests the platform's read-receipt event for an in-app or push
// notification. Only the external event ever flips a record to read.
func (h *ReceiptHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, _ := identity.UserIDFromContext(r.Context())

	var req readReceiptReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.DispatchID))
	if err != nil {
		http.Error(w, "invalid dispatchId", http.StatusBadRequest)
		return
	}

	if err := h.Log.MarkRead(r.Context(), uid, id); err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
