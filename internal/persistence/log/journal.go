// Package log persists director tick reports as compressed JSONL.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"wavedirector.ai/internal/sim/director"
)

const journalPrefix = "journal"

// Journal writes one entry per director tick. Quiet ticks (nothing spawned,
// no timeline transition) are skipped unless Verbose is set.
type Journal struct {
	w       *JSONLZstdWriter
	log     *stdlog.Logger
	Verbose bool
}

func NewJournal(dataDir string, logger *stdlog.Logger) *Journal {
	if logger == nil {
		logger = stdlog.New(io.Discard, "", 0)
	}
	return &Journal{w: NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), journalPrefix), log: logger}
}

// OnFileClosed registers fn for every finished journal file. Call before the
// first write.
func (j *Journal) OnFileClosed(fn func(path string)) { j.w.OnClose = fn }

func (j *Journal) WriteTick(r director.TickReport) error { return j.w.Write(r) }
func (j *Journal) Close() error                          { return j.w.Close() }

// ObserveTick implements director.Observer. Write errors are logged, not fatal.
func (j *Journal) ObserveTick(r director.TickReport) {
	if !j.Verbose && quiet(r) {
		return
	}
	if err := j.WriteTick(r); err != nil {
		j.log.Printf("journal: tick=%d err=%v", r.Tick, err)
	}
}

func quiet(r director.TickReport) bool {
	return len(r.Spawns) == 0 && r.Started == "" && r.Ended == "" && len(r.Skipped) == 0 && r.Released == 0 && r.Faults == 0 && !r.Repositioned
}

// JournalFiles lists the journal files under dataDir in chronological order.
func JournalFiles(dataDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, "journal", journalPrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJournal streams every tick report under dataDir to fn in file order.
// Returning io.EOF from fn stops early without error.
func ReadJournal(dataDir string, fn func(director.TickReport) error) error {
	files, err := JournalFiles(dataDir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

func readFile(path string, fn func(director.TickReport) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r director.TickReport
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}
