package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/questtrail/internal/session"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "QuestTrail Client API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Local client-runtime API for the QuestTrail scavenger hunt.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of the local database.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// POST /api/session/start
	postStart, _ := r.NewOperationContext(http.MethodPost, "/api/session/start")
	postStart.SetSummary("Start or resume the quest session")
	postStart.SetDescription("Starts the quest against the remote runtime, or queues the start when offline. Idempotent per session.")
	postStart.AddReqStructure(StartSessionRequest{})
	postStart.AddRespStructure(session.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postStart)

	// GET /api/session/state
	getState, _ := r.NewOperationContext(http.MethodGet, "/api/session/state")
	getState.SetSummary("Local progression state")
	getState.SetDescription("Returns score, confirmed and pending completions, queue depth, and connectivity.")
	getState.AddRespStructure(session.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getState)

	// POST /api/object/arrive
	postArrive, _ := r.NewOperationContext(http.MethodPost, "/api/object/arrive")
	postArrive.SetSummary("Record arrival at an object")
	postArrive.SetDescription("Applies the completion optimistically and syncs it to the remote runtime, queueing when offline. Duplicate arrivals are deduplicated server-side.")
	postArrive.AddReqStructure(ArriveRequest{})
	postArrive.AddRespStructure(session.Status{}, openapi.WithHTTPStatus(http.StatusOK))
	postArrive.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postArrive.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postArrive)

	// POST /api/location
	postLocation, _ := r.NewOperationContext(http.MethodPost, "/api/location")
	postLocation.SetSummary("Ingest a GPS fix")
	postLocation.SetDescription("Feeds one location sample to the proximity tracker and returns the zones currently occupied.")
	postLocation.AddReqStructure(struct {
		Lat       float64 `json:"lat"`
		Lng       float64 `json:"lng"`
		AccuracyM float64 `json:"accuracyM,omitempty"`
	}{})
	postLocation.AddRespStructure(LocationResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postLocation.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(postLocation)

	// GET /api/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events stream of zone enter/exit, reconciliation, and queue events.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(spec)
	}
}
