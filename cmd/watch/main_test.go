package main

import (
	"encoding/json"
	"strings"
	"testing"

	"wavedirector.ai/internal/protocol"
)

func TestDescribe(t *testing.T) {
	tick, _ := json.Marshal(protocol.TickMsg{
		Type: protocol.TypeTick, ProtocolVersion: protocol.Version,
		Tick: 4, RunMs: 2500, TDesign: 3.75, PaceScale: 1.5, Started: "boss", Suspended: true,
		Spawns: []protocol.SpawnEntry{{Source: "timeline", EventID: "boss", Archetype: "ogre", Mode: "default", Pattern: "boss", Count: 1}},
	})
	got := describe(tick)
	for _, want := range []string{"TICK 4", "t=2.5s", "design=3.8s", "start=boss", "suspended", "timeline:ogre/default×1(boss)"} {
		if !strings.Contains(got, want) {
			t.Fatalf("describe=%q missing %q", got, want)
		}
	}

	ctl, _ := json.Marshal(protocol.ControlMsg{Type: protocol.TypeControl, ProtocolVersion: protocol.Version, EventID: "fog", Payload: map[string]any{"density": 0.5}})
	if got := describe(ctl); got != `CONTROL event=fog payload={"density":0.5}` {
		t.Fatalf("describe control=%q", got)
	}
	if got := describe([]byte(`{"type":"HELLO"}`)); got != "" {
		t.Fatalf("unknown type should render nothing, got %q", got)
	}
}
