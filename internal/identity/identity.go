// Package identity derives the effective runtime session id and player id
// from team mode and persisted state. The functions are pure; callers own
// persistence of whatever they resolve.
package identity

// RuntimeSessionParams are the inputs to ResolveRuntimeSessionID. Empty
// string means absent.
type RuntimeSessionParams struct {
	// TeamCode is set only in team mode.
	TeamCode string
	// RemoteAssignedRuntimeID is the runtime session id provisioned by the
	// server for the team, if one has been received this session.
	RemoteAssignedRuntimeID string
	// PersistedRuntimeID is the last runtime session id written to local
	// storage.
	PersistedRuntimeID string
	// PersistedLocalID is the last locally chosen session id.
	PersistedLocalID string
}

// ResolveRuntimeSessionID returns the session id under which the remote
// authority tracks shared progress, or "" when nothing can be resolved.
//
// In team mode the server is the sole source of truth: the freshly
// assigned id wins, falling back to whatever was last persisted for the
// team. A runtime id is never derived from the team code itself. In solo
// mode a previously persisted runtime id wins (a remote remap survives
// reloads), falling back to the persisted local session id.
func ResolveRuntimeSessionID(p RuntimeSessionParams) string {
	if p.TeamCode != "" {
		if p.RemoteAssignedRuntimeID != "" {
			return p.RemoteAssignedRuntimeID
		}
		return p.PersistedRuntimeID
	}
	if p.PersistedRuntimeID != "" {
		return p.PersistedRuntimeID
	}
	return p.PersistedLocalID
}

// PlayerParams are the inputs to ResolvePlayerID.
type PlayerParams struct {
	// TeamCode is set only in team mode.
	TeamCode string
	// TeamLocalSessionID is the per-member session id assigned by the team
	// channel.
	TeamLocalSessionID string
	// DeviceID is the stable per-device identifier.
	DeviceID string
}

// ResolvePlayerID returns the identifier the remote authority uses to tell
// players apart. Team mode uses the member's local session id so teammates
// sharing one runtime session stay distinguishable; solo mode uses the
// device id so progress survives a session id rotation.
func ResolvePlayerID(p PlayerParams) string {
	if p.TeamCode != "" && p.TeamLocalSessionID != "" {
		return p.TeamLocalSessionID
	}
	return p.DeviceID
}
