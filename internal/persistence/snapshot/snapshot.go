// Package snapshot stores director checkpoints: the run clock, timeline
// cursor and live tuning a restarted server needs to pick up where it left off.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"wavedirector.ai/internal/sim/director"
	"wavedirector.ai/internal/sim/modes"
	"wavedirector.ai/internal/sim/pace"
	"wavedirector.ai/internal/sim/timeline"
)

const Version = 1

// FileName is the checkpoint file under <data>/checkpoint/.
const FileName = "director.snap.zst"

type Header struct {
	Version int    `json:"version"`
	Digest  string `json:"digest"`
	Tick    uint64 `json:"tick"`
	SavedAt string `json:"saved_at"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed            int64             `json:"seed"`
	RunMs           int64             `json:"run_ms"`
	TRun            float64           `json:"t_run"`
	DelayMs         int               `json:"delay_ms"`
	WeightedEnabled bool              `json:"weighted_enabled"`
	Pace            pace.Params       `json:"pace"`
	Timeline        timeline.State    `json:"timeline"`
	Modes           []modes.Entry     `json:"modes,omitempty"`
	WeightOverrides map[string]string `json:"weight_overrides,omitempty"`
	MaxOverrides    map[string]string `json:"max_overrides,omitempty"`
}

func Path(dataDir string) string {
	return filepath.Join(dataDir, "checkpoint", FileName)
}

// FromStatus captures the resumable part of a director status.
func FromStatus(st director.Status, seed int64) SnapshotV1 {
	return SnapshotV1{
		Header: Header{
			Version: Version,
			Digest:  st.Digest,
			Tick:    st.Tick,
			SavedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
		Seed:            seed,
		RunMs:           st.RunMs,
		TRun:            st.TRun,
		DelayMs:         st.DelayMs,
		WeightedEnabled: st.WeightedEnabled,
		Pace:            st.Pace,
		Timeline:        st.Timeline,
		Modes:           st.Modes,
		WeightOverrides: st.WeightOverrides,
		MaxOverrides:    st.MaxOverrides,
	}
}

// WriteSnapshot writes a JSON header line followed by the gob body, zstd
// compressed. The file is replaced atomically.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadIfExists returns ok=false when no checkpoint has been written yet.
func ReadIfExists(path string) (snap SnapshotV1, ok bool, err error) {
	snap, err = ReadSnapshot(path)
	if errors.Is(err, os.ErrNotExist) {
		return SnapshotV1{}, false, nil
	}
	if err != nil {
		return SnapshotV1{}, false, err
	}
	return snap, true, nil
}
