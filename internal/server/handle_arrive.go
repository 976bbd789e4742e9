package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/playperu/questtrail/internal/runtime"
	"github.com/playperu/questtrail/internal/session"
)

type ArriveRequest struct {
	ObjectID string `json:"objectId"`
}

func handleArrive(mgr *session.Manager, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ArriveRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.ObjectID = strings.TrimSpace(req.ObjectID)
		if req.ObjectID == "" {
			writeError(w, http.StatusBadRequest, "objectId is required")
			return
		}

		status, err := mgr.Arrive(r.Context(), req.ObjectID)
		if errors.Is(err, runtime.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, session.ErrNoRuntimeSession) {
			writeError(w, http.StatusConflict, "no session started yet")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		eventType := EventReconciled
		if !status.Online {
			eventType = EventActionQueued
		}
		broker.Publish(Event{
			Type:       eventType,
			ObjectID:   req.ObjectID,
			Score:      status.Score,
			QueueDepth: status.QueueDepth,
		})
		writeJSON(w, http.StatusOK, status)
	}
}
