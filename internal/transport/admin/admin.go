// Package admin serves the loopback-only runtime tuning API of a running
// director.
package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"wavedirector.ai/internal/protocol"
	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/pace"
	"wavedirector.ai/internal/sim/policy"
	"wavedirector.ai/internal/transport/observer"
)

const maxBody = 64 * 1024

// Tuner is the director surface the API drives.
type Tuner interface {
	Status() director.Status
	SetDelayMs(ms int) int
	SetSpawnsPerTick(v policy.Value)
	SetWeight(archetype string, v policy.Value) error
	SetMax(archetype string, v policy.Value) error
	SetWeightedEnabled(on bool)
	SetPace(p *pace.Params) pace.Mapper
	Pace() pace.Mapper
	SeekToTime(tRun float64) error
}

type Options struct {
	// Reload re-reads the policy file and swaps it in, returning the new digest.
	Reload func() (string, error)
	Log    *log.Logger
}

type Server struct {
	d    Tuner
	opts Options
	log  *log.Logger
}

func New(d Tuner, opts Options) *Server {
	logger := opts.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{d: d, opts: opts, log: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/v1/status", s.guard(http.MethodGet, s.handleStatus))
	mux.HandleFunc("/admin/v1/pace", s.guard("", s.handlePace))
	mux.HandleFunc("/admin/v1/delay", s.guard(http.MethodPost, s.handleDelay))
	mux.HandleFunc("/admin/v1/spawns_per_tick", s.guard(http.MethodPost, s.handleSpawnsPerTick))
	mux.HandleFunc("/admin/v1/weight", s.guard(http.MethodPost, s.handleWeight))
	mux.HandleFunc("/admin/v1/max", s.guard(http.MethodPost, s.handleMax))
	mux.HandleFunc("/admin/v1/weighted", s.guard(http.MethodPost, s.handleWeighted))
	mux.HandleFunc("/admin/v1/seek", s.guard(http.MethodPost, s.handleSeek))
	if s.opts.Reload != nil {
		mux.HandleFunc("/admin/v1/reload", s.guard(http.MethodPost, s.handleReload))
	}
}

func (s *Server) guard(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !observer.IsLoopbackRemote(r.RemoteAddr) {
			writeError(rw, http.StatusForbidden, protocol.ErrForbidden, "forbidden")
			return
		}
		if method != "" && r.Method != method {
			writeError(rw, http.StatusMethodNotAllowed, protocol.ErrBadRequest, "method not allowed")
			return
		}
		h(rw, r)
	}
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.d.Status())
}

type paceView struct {
	Params   pace.Params `json:"params"`
	Scale    float64     `json:"scale"`
	Identity bool        `json:"identity"`
}

func viewOf(m pace.Mapper) paceView {
	return paceView{Params: m.Params(), Scale: m.Scale(), Identity: m.Identity()}
}

// handlePace reads the mapping on GET. POST takes pace params, or null to
// reset to identity.
func (s *Server) handlePace(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(rw, http.StatusOK, viewOf(s.d.Pace()))
	case http.MethodPost:
		var p *pace.Params
		if !decode(rw, r, &p) {
			return
		}
		m := s.d.SetPace(p)
		s.log.Printf("admin: pace scale=%.4f identity=%v", m.Scale(), m.Identity())
		writeJSON(rw, http.StatusOK, viewOf(m))
	default:
		writeError(rw, http.StatusMethodNotAllowed, protocol.ErrBadRequest, "method not allowed")
	}
}

func (s *Server) handleDelay(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		DelayMs *int `json:"delay_ms"`
	}
	if !decode(rw, r, &req) {
		return
	}
	if req.DelayMs == nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing delay_ms")
		return
	}
	applied := s.d.SetDelayMs(*req.DelayMs)
	s.log.Printf("admin: delay_ms=%d", applied)
	writeJSON(rw, http.StatusOK, map[string]any{"delay_ms": applied})
}

type valueReq struct {
	Archetype string          `json:"archetype,omitempty"`
	Value     json.RawMessage `json:"value"`
}

func (s *Server) readValue(rw http.ResponseWriter, r *http.Request) (valueReq, policy.Value, bool) {
	var req valueReq
	if !decode(rw, r, &req) {
		return req, policy.Value{}, false
	}
	if len(req.Value) == 0 {
		return req, policy.Value{}, true
	}
	v, err := policy.ParseValue(req.Value)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, fmt.Sprintf("value: %v", err))
		return req, policy.Value{}, false
	}
	return req, v, true
}

func (s *Server) handleSpawnsPerTick(rw http.ResponseWriter, r *http.Request) {
	_, v, ok := s.readValue(rw, r)
	if !ok {
		return
	}
	s.d.SetSpawnsPerTick(v)
	st := s.d.Status()
	s.log.Printf("admin: spawns_per_tick=%s", st.SpawnsPerTick)
	writeJSON(rw, http.StatusOK, map[string]any{"spawns_per_tick": st.SpawnsPerTick})
}

func (s *Server) handleWeight(rw http.ResponseWriter, r *http.Request) {
	s.handleOverride(rw, r, "weight", s.d.SetWeight)
}

func (s *Server) handleMax(rw http.ResponseWriter, r *http.Request) {
	s.handleOverride(rw, r, "max", s.d.SetMax)
}

func (s *Server) handleOverride(rw http.ResponseWriter, r *http.Request, what string, set func(string, policy.Value) error) {
	req, v, ok := s.readValue(rw, r)
	if !ok {
		return
	}
	if req.Archetype == "" {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing archetype")
		return
	}
	if err := set(req.Archetype, v); err != nil {
		if errors.Is(err, director.ErrUnknownArchetype) {
			writeError(rw, http.StatusNotFound, protocol.ErrNotFound, err.Error())
			return
		}
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	s.log.Printf("admin: %s archetype=%s value=%s", what, req.Archetype, v)
	writeJSON(rw, http.StatusOK, map[string]any{"archetype": req.Archetype, what: v.String()})
}

func (s *Server) handleWeighted(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(rw, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing enabled")
		return
	}
	s.d.SetWeightedEnabled(*req.Enabled)
	s.log.Printf("admin: weighted=%v", *req.Enabled)
	writeJSON(rw, http.StatusOK, map[string]any{"weighted_enabled": *req.Enabled})
}

func (s *Server) handleSeek(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		TRun *float64 `json:"t_run"`
	}
	if !decode(rw, r, &req) {
		return
	}
	if req.TRun == nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing t_run")
		return
	}
	if err := s.d.SeekToTime(*req.TRun); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	st := s.d.Status()
	s.log.Printf("admin: seek t_run=%.3f", st.TRun)
	writeJSON(rw, http.StatusOK, map[string]any{"t_run": st.TRun, "t_design": st.TDesign, "timeline": st.Timeline})
}

func (s *Server) handleReload(rw http.ResponseWriter, r *http.Request) {
	digest, err := s.opts.Reload()
	if err != nil {
		writeError(rw, http.StatusUnprocessableEntity, protocol.ErrBadRequest, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"digest": digest})
}

func decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, fmt.Sprintf("bad json: %v", err))
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(rw, code, protocol.NewError(errCode, msg))
}
