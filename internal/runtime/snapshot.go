package runtime

import "strings"

// Snapshot is the authoritative progression record returned by the remote
// runtime. It is mirrored locally but never mutated by the client.
type Snapshot struct {
	SessionID  string                 `json:"sessionId"`
	QuestID    string                 `json:"questId"`
	Version    int64                  `json:"version"`
	ServerTime string                 `json:"serverTime"`
	Objects    map[string]ObjectState `json:"objects"`
	Nodes      map[string]NodeState   `json:"nodes"`
	Me         MeState                `json:"me"`
}

// ObjectState tracks one checkpoint. An object counts as completed iff
// CompletedAt is set.
type ObjectState struct {
	ArrivedAt   *string `json:"arrivedAt,omitempty"`
	CompletedAt *string `json:"completedAt,omitempty"`
}

type NodeState struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
}

type MeState struct {
	Score              int      `json:"score"`
	CurrentObjectID    string   `json:"currentObjectId,omitempty"`
	VisibleObjectIDs   []string `json:"visibleObjectIds,omitempty"`
	CompletedObjectIDs []string `json:"completedObjectIds,omitempty"`
}

const puzzleNodePrefix = "puzzle"

// CompletedObjects returns the ids of objects with a completion timestamp.
func (s *Snapshot) CompletedObjects() []string {
	out := make([]string, 0, len(s.Objects))
	for id, obj := range s.Objects {
		if obj.CompletedAt != nil && *obj.CompletedAt != "" {
			out = append(out, id)
		}
	}
	return out
}

// CompletedPuzzles returns the ids of completed puzzle nodes. Puzzle nodes
// are recognized by the "puzzle" id prefix; the snapshot carries no
// explicit type tag, so this convention is load-bearing and deliberately
// not extended to other prefixes.
func (s *Snapshot) CompletedPuzzles() []string {
	var out []string
	for id, node := range s.Nodes {
		if strings.HasPrefix(id, puzzleNodePrefix) && node.Status == "completed" {
			out = append(out, id)
		}
	}
	return out
}
