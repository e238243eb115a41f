// Package indexdb keeps a queryable SQLite index of director activity next to
// the JSONL journal.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"wavedirector.ai/internal/sim/director"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	runID  atomic.Int64

	dropTick atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqRun
	reqFlush
)

type req struct {
	kind reqKind

	tick director.TickReport
	run  runRow
	done chan error
}

type runRow struct {
	Seed      int64
	Digest    string
	StartedAt string
	reply     chan int64
}

type Stats struct {
	DropTickTotal uint64 `json:"drop_tick_total"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	RunID         int64  `json:"run_id"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id INTEGER PRIMARY KEY AUTOINCREMENT,
			seed INTEGER NOT NULL,
			digest TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS spawns (
			run_id INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			run_ms INTEGER NOT NULL,
			t_design REAL NOT NULL,
			source TEXT NOT NULL,
			event_id TEXT,
			archetype TEXT NOT NULL,
			mode TEXT NOT NULL,
			pattern TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_spawns_archetype ON spawns(run_id, archetype, mode);`,
		`CREATE TABLE IF NOT EXISTS timeline_events (
			run_id INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			run_ms INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// BeginRun records a run row and tags every later tick with its id.
func (s *SQLiteIndex) BeginRun(seed int64, digest string) (int64, error) {
	if s == nil || s.closed.Load() {
		return 0, fmt.Errorf("index closed")
	}
	reply := make(chan int64, 1)
	s.ch <- req{kind: reqRun, run: runRow{
		Seed:      seed,
		Digest:    digest,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
		reply:     reply,
	}}
	id := <-reply
	if id <= 0 {
		return 0, fmt.Errorf("insert run failed")
	}
	s.runID.Store(id)
	return id, nil
}

// ObserveTick implements director.Observer. It never blocks: when the writer
// falls behind the tick is dropped and counted; the journal stays complete.
func (s *SQLiteIndex) ObserveTick(r director.TickReport) {
	if s == nil || s.closed.Load() {
		return
	}
	if len(r.Spawns) == 0 && r.Started == "" && r.Ended == "" && len(r.Skipped) == 0 {
		return
	}
	select {
	case s.ch <- req{kind: reqTick, tick: r}:
	default:
		s.dropTick.Add(1)
	}
}

// Flush commits everything queued so far.
func (s *SQLiteIndex) Flush() error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan error, 1)
	s.ch <- req{kind: reqFlush, done: done}
	return <-done
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTickTotal: s.dropTick.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		RunID:         s.runID.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSpawn, _ := s.db.Prepare(`INSERT OR REPLACE INTO spawns(run_id,tick,seq,run_ms,t_design,source,event_id,archetype,mode,pattern,count) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO timeline_events(run_id,tick,seq,run_ms,event_id,kind) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertSpawn != nil {
			_ = insertSpawn.Close()
		}
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
		runID         int64
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			_ = commit()
		}
	}

	for r := range s.ch {
		switch r.kind {
		case reqRun:
			if err := commit(); err != nil {
				r.run.reply <- 0
				continue
			}
			res, err := s.db.ExecContext(ctx, `INSERT INTO runs(seed,digest,started_at) VALUES(?,?,?)`, r.run.Seed, r.run.Digest, r.run.StartedAt)
			if err != nil {
				r.run.reply <- 0
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				r.run.reply <- 0
				continue
			}
			runID = id
			r.run.reply <- id

		case reqFlush:
			r.done <- commit()

		case reqTick:
			begin()
			if tx == nil {
				continue
			}
			t := r.tick
			seq := 0
			ok := true
			for _, sp := range t.Spawns {
				if insertSpawn == nil {
					break
				}
				if _, err := tx.Stmt(insertSpawn).Exec(runID, int64(t.Tick), seq, t.RunMs, t.TDesign, sp.Source, sp.EventID, sp.Archetype, sp.Mode, sp.Pattern, sp.Count); err != nil {
					ok = false
					break
				}
				seq++
				opCount++
			}
			events := make([][2]string, 0, 2+len(t.Skipped))
			if t.Ended != "" {
				events = append(events, [2]string{t.Ended, "ended"})
			}
			for _, id := range t.Skipped {
				events = append(events, [2]string{id, "skipped"})
			}
			if t.Started != "" {
				events = append(events, [2]string{t.Started, "started"})
			}
			for i, ev := range events {
				if !ok || insertEvent == nil {
					break
				}
				if _, err := tx.Stmt(insertEvent).Exec(runID, int64(t.Tick), i, t.RunMs, ev[0], ev[1]); err != nil {
					ok = false
					break
				}
				opCount++
			}
			if !ok {
				rollback()
				continue
			}
			flushIfNeeded()
		}
	}

	_ = commit()
}
