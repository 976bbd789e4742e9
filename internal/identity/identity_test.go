package identity

import "testing"

func TestResolveRuntimeSessionID(t *testing.T) {
	tests := []struct {
		name string
		p    RuntimeSessionParams
		want string
	}{
		{
			name: "team mode prefers server-assigned id",
			p: RuntimeSessionParams{
				TeamCode:                "LIMA42",
				RemoteAssignedRuntimeID: "rt-server",
				PersistedRuntimeID:      "rt-old",
				PersistedLocalID:        "local-1",
			},
			want: "rt-server",
		},
		{
			name: "team mode falls back to persisted runtime id",
			p: RuntimeSessionParams{
				TeamCode:           "LIMA42",
				PersistedRuntimeID: "rt-old",
				PersistedLocalID:   "local-1",
			},
			want: "rt-old",
		},
		{
			name: "team mode never derives from team code",
			p: RuntimeSessionParams{
				TeamCode:         "LIMA42",
				PersistedLocalID: "local-1",
			},
			want: "",
		},
		{
			name: "solo prefers persisted runtime id",
			p: RuntimeSessionParams{
				PersistedRuntimeID: "rt-remap",
				PersistedLocalID:   "local-1",
			},
			want: "rt-remap",
		},
		{
			name: "solo falls back to local session id",
			p:    RuntimeSessionParams{PersistedLocalID: "local-1"},
			want: "local-1",
		},
		{
			name: "nothing resolvable",
			p:    RuntimeSessionParams{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveRuntimeSessionID(tt.p); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolvePlayerIDByMode(t *testing.T) {
	// Same device, two calls differing only in team code.
	solo := ResolvePlayerID(PlayerParams{
		TeamLocalSessionID: "ws-77",
		DeviceID:           "device-abc",
	})
	team := ResolvePlayerID(PlayerParams{
		TeamCode:           "LIMA42",
		TeamLocalSessionID: "ws-77",
		DeviceID:           "device-abc",
	})

	if solo != "device-abc" {
		t.Errorf("solo mode: got %q, want device id", solo)
	}
	if team != "ws-77" {
		t.Errorf("team mode: got %q, want team-local session id", team)
	}
}

func TestResolvePlayerIDTeamWithoutChannel(t *testing.T) {
	// Team code set but the channel has not assigned a member session yet:
	// fall back to the device id rather than returning nothing.
	got := ResolvePlayerID(PlayerParams{TeamCode: "LIMA42", DeviceID: "device-abc"})
	if got != "device-abc" {
		t.Errorf("got %q, want device id fallback", got)
	}
}
