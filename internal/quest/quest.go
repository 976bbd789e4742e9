// Package quest loads the static per-quest definition the client needs
// locally: the quest id/version to start against and the stop zones the
// proximity tracker evaluates.
package quest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/playperu/questtrail/internal/proximity"
)

type Quest struct {
	ID      string           `json:"id"`
	Name    string           `json:"name,omitempty"`
	Version int              `json:"version"`
	Stops   []proximity.Stop `json:"stops"`
}

// Load reads a quest definition from a JSON file.
func Load(path string) (Quest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Quest{}, fmt.Errorf("reading quest file: %w", err)
	}
	return Parse(buf)
}

// Parse decodes and validates a quest definition.
func Parse(buf []byte) (Quest, error) {
	var q Quest
	if err := json.Unmarshal(buf, &q); err != nil {
		return Quest{}, fmt.Errorf("parsing quest definition: %w", err)
	}
	if q.ID == "" {
		return Quest{}, fmt.Errorf("quest definition missing id")
	}
	seen := make(map[string]struct{}, len(q.Stops))
	for _, s := range q.Stops {
		if s.ID == "" {
			return Quest{}, fmt.Errorf("quest %s has a stop without an id", q.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return Quest{}, fmt.Errorf("quest %s has duplicate stop id %s", q.ID, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return q, nil
}
