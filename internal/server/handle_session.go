package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/playperu/questtrail/internal/runtime"
	"github.com/playperu/questtrail/internal/session"
)

type StartSessionRequest struct {
	PlayerName string `json:"playerName"`
}

func handleStartSession(mgr *session.Manager, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartSessionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.PlayerName = strings.TrimSpace(req.PlayerName)

		status, err := mgr.StartQuest(r.Context(), req.PlayerName)
		if errors.Is(err, session.ErrNoRuntimeSession) {
			writeError(w, http.StatusConflict, "waiting for the team runtime session")
			return
		}
		if errors.Is(err, runtime.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		broker.Publish(Event{
			Type:       EventReconciled,
			Score:      status.Score,
			QueueDepth: status.QueueDepth,
		})
		writeJSON(w, http.StatusOK, status)
	}
}

func handleState(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := mgr.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}
