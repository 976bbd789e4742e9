package server

import (
	"net/http"

	"github.com/playperu/questtrail/internal/geo"
	"github.com/playperu/questtrail/internal/proximity"
)

type LocationResponse struct {
	ActiveZones []string `json:"activeZones"`
	CurrentStop string   `json:"currentStop,omitempty"`
}

// handleLocation ingests one GPS fix from the device. The tracker's zone
// evaluation is synchronous; enter/exit callbacks fan out from the wiring
// in main, not from here.
func handleLocation(tracker *proximity.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fix geo.Fix
		if err := readJSON(r, &fix); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !fix.Coordinates.Valid() {
			writeError(w, http.StatusBadRequest, "lat and lng must be finite")
			return
		}

		tracker.Ingest(fix)

		resp := LocationResponse{ActiveZones: tracker.ActiveZones()}
		if stop, ok := tracker.CurrentStop(); ok {
			resp.CurrentStop = stop.ID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
