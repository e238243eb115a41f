package protocol

import (
	"encoding/json"
	"testing"
)

func TestValidateMessage_Samples(t *testing.T) {
	good := []any{
		WelcomeMsg{Type: TypeWelcome, ProtocolVersion: Version, SessionID: "O1", Digest: "abc"},
		TickMsg{Type: TypeTick, ProtocolVersion: Version, Tick: 3, RunMs: 1500, TDesign: 2.25, PaceScale: 1.5,
			Spawns: []SpawnEntry{{Source: "weighted", Archetype: "grunt", Mode: "default", Pattern: "ring", Count: 4}}},
		ControlMsg{Type: TypeControl, ProtocolVersion: Version, EventID: "shrink", Payload: map[string]any{"arena_radius": 600}},
		NewError(ErrBadRequest, "bad"),
	}
	for i, m := range good {
		b, _ := json.Marshal(m)
		if err := ValidateMessage(b); err != nil {
			t.Fatalf("sample %d: %v\n%s", i, err, b)
		}
	}

	bad := []string{
		`{"type":"TICK","protocol_version":"1.0","tick":1,"run_ms":0,"t_design":0,"pace_scale":0}`,
		`{"type":"TICK","protocol_version":"1.0","tick":1,"run_ms":0,"t_design":0,"pace_scale":1,"spawns":[{"source":"other","archetype":"a","pattern":"ring","count":1}]}`,
		`{"type":"CONTROL","protocol_version":"1.0","event_id":"x"}`,
		`{"type":"ERROR","code":"nope","message":""}`,
		`{"type":"HELLO"}`,
	}
	for i, s := range bad {
		if err := ValidateMessage([]byte(s)); err == nil {
			t.Fatalf("bad sample %d accepted", i)
		}
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"SUBSCRIBE","protocol_version":"1.0","quiet":true}`))
	if err != nil || m.Type != TypeSubscribe || m.ProtocolVersion != Version {
		t.Fatalf("m=%+v err=%v", m, err)
	}
}
