package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wavedirector.ai/internal/protocol"
	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/policy"
)

const testPolicy = `
delay_ms: 250
by_archetype:
  grunt: {weight: 3, max: 10}
  ogre: {weight: 1, max: 2}
timeline:
  - {id: intro, at: 5, duration: 1, once: true}
  - {id: late, at: 300, duration: 1}
`

func newTestServer(t *testing.T, reload func() (string, error)) (*director.Director, *httptest.Server) {
	t.Helper()
	cfg, err := policy.Parse([]byte(testPolicy))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d, err := director.New(cfg, director.Options{Seed: 1})
	if err != nil {
		t.Fatalf("director: %v", err)
	}
	mux := http.NewServeMux()
	New(d, Options{Reload: reload}).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return d, srv
}

func post(t *testing.T, srv *httptest.Server, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestStatus(t *testing.T) {
	_, srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/admin/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var st director.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.DelayMs != 250 || len(st.Archetypes) != 2 || st.Digest == "" {
		t.Fatalf("status=%+v", st)
	}

	if code := post(t, srv, "/admin/v1/status", `{}`, nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status code=%d", code)
	}
}

func TestTuningEndpoints(t *testing.T) {
	d, srv := newTestServer(t, nil)

	var delay map[string]int
	if code := post(t, srv, "/admin/v1/delay", `{"delay_ms": 5}`, &delay); code != http.StatusOK {
		t.Fatalf("delay code=%d", code)
	}
	if delay["delay_ms"] != policy.MinDelayMs {
		t.Fatalf("delay not floored: %v", delay)
	}

	if code := post(t, srv, "/admin/v1/spawns_per_tick", `{"value": "2 + t / 10"}`, nil); code != http.StatusOK {
		t.Fatalf("spawns_per_tick code=%d", code)
	}
	if got := d.Status().SpawnsPerTick; got != "expr(2 + t / 10)" {
		t.Fatalf("spawns_per_tick=%q", got)
	}

	if code := post(t, srv, "/admin/v1/weight", `{"archetype": "ogre", "value": 7}`, nil); code != http.StatusOK {
		t.Fatalf("weight code=%d", code)
	}
	if got := d.Status().WeightOverrides["ogre"]; got != "7" {
		t.Fatalf("weight override=%q", got)
	}
	if code := post(t, srv, "/admin/v1/weight", `{"archetype": "ogre", "value": null}`, nil); code != http.StatusOK {
		t.Fatalf("clear weight code=%d", code)
	}
	if d.Status().WeightOverrides != nil {
		t.Fatalf("override not cleared: %v", d.Status().WeightOverrides)
	}

	if code := post(t, srv, "/admin/v1/max", `{"archetype": "grunt", "value": {"points": [[0, 5], [60, 20]]}}`, nil); code != http.StatusOK {
		t.Fatalf("max code=%d", code)
	}
	if got := d.Status().MaxOverrides["grunt"]; got != "points(2)" {
		t.Fatalf("max override=%q", got)
	}

	var e protocol.ErrorMsg
	if code := post(t, srv, "/admin/v1/max", `{"archetype": "dragon", "value": 1}`, &e); code != http.StatusNotFound || e.Code != protocol.ErrNotFound {
		t.Fatalf("unknown archetype code=%d err=%+v", code, e)
	}
	e = protocol.ErrorMsg{}
	if code := post(t, srv, "/admin/v1/weight", `{"archetype": "ogre", "value": "t +"}`, &e); code != http.StatusBadRequest || e.Code != protocol.ErrBadRequest {
		t.Fatalf("bad expr code=%d err=%+v", code, e)
	}

	if code := post(t, srv, "/admin/v1/weighted", `{"enabled": false}`, nil); code != http.StatusOK {
		t.Fatalf("weighted code=%d", code)
	}
	if d.Status().WeightedEnabled {
		t.Fatalf("weighted still enabled")
	}
	if code := post(t, srv, "/admin/v1/weighted", `{}`, nil); code != http.StatusBadRequest {
		t.Fatalf("missing enabled code=%d", code)
	}
	if code := post(t, srv, "/admin/v1/weighted", `{"enabled": true, "extra": 1}`, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field code=%d", code)
	}
}

func TestPaceAndSeek(t *testing.T) {
	d, srv := newTestServer(t, nil)

	var pv paceView
	if code := post(t, srv, "/admin/v1/pace", `{"design_seconds": 900, "run_seconds": 600}`, &pv); code != http.StatusOK {
		t.Fatalf("pace code=%d", code)
	}
	if pv.Identity || pv.Scale != 1.5 {
		t.Fatalf("pace=%+v", pv)
	}

	var seek struct {
		TRun    float64 `json:"t_run"`
		TDesign float64 `json:"t_design"`
	}
	if code := post(t, srv, "/admin/v1/seek", `{"t_run": 600}`, &seek); code != http.StatusOK {
		t.Fatalf("seek code=%d", code)
	}
	if seek.TRun != 600 || seek.TDesign != 900 {
		t.Fatalf("seek=%+v", seek)
	}
	st := d.Status()
	if st.Timeline.Pending != 0 || len(st.Timeline.FiredOnce) != 1 || st.Timeline.FiredOnce[0] != "intro" {
		t.Fatalf("timeline after seek=%+v", st.Timeline)
	}
	if code := post(t, srv, "/admin/v1/seek", `{"t_run": -1}`, nil); code != http.StatusBadRequest {
		t.Fatalf("negative seek code=%d", code)
	}

	pv = paceView{}
	if code := post(t, srv, "/admin/v1/pace", `null`, &pv); code != http.StatusOK {
		t.Fatalf("reset pace code=%d", code)
	}
	if !pv.Identity || pv.Scale != 1 {
		t.Fatalf("pace after reset=%+v", pv)
	}

	resp, err := http.Get(srv.URL + "/admin/v1/pace")
	if err != nil {
		t.Fatalf("get pace: %v", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&pv); err != nil || !pv.Identity {
		t.Fatalf("get pace=%+v err=%v", pv, err)
	}
}

func TestReload(t *testing.T) {
	fail := false
	_, srv := newTestServer(t, func() (string, error) {
		if fail {
			return "", errors.New("policy.yaml: bad")
		}
		return "abc123", nil
	})
	var out map[string]string
	if code := post(t, srv, "/admin/v1/reload", ``, &out); code != http.StatusOK || out["digest"] != "abc123" {
		t.Fatalf("reload code=%d out=%v", code, out)
	}
	fail = true
	var e protocol.ErrorMsg
	if code := post(t, srv, "/admin/v1/reload", ``, &e); code != http.StatusUnprocessableEntity || e.Code != protocol.ErrBadRequest {
		t.Fatalf("failed reload code=%d err=%+v", code, e)
	}
}

func TestRejectsRemoteCallers(t *testing.T) {
	cfg, _ := policy.Parse([]byte(testPolicy))
	d, _ := director.New(cfg, director.Options{})
	mux := http.NewServeMux()
	New(d, Options{}).Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil)
	req.RemoteAddr = "192.0.2.10:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("code=%d", rec.Code)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Code != protocol.ErrForbidden {
		t.Fatalf("body=%s err=%v", rec.Body.String(), err)
	}
}
