package mirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader stores one local file under an object key.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Options struct {
	// Prefix is prepended to keys derived from the path relative to BaseDir.
	Prefix   string
	BaseDir  string
	Workers  int
	Queue    int
	Attempts int
	Backoff  time.Duration
	Log      *log.Logger
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	EnqueuedTotal uint64 `json:"enqueued_total"`
	DroppedTotal  uint64 `json:"dropped_total"`
	UploadedTotal uint64 `json:"uploaded_total"`
	FailedTotal   uint64 `json:"failed_total"`
}

// Mirror uploads files on worker goroutines. Enqueue never blocks; a full
// queue drops the file and counts it.
type Mirror struct {
	up   Uploader
	opts Options
	log  *log.Logger

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func New(up Uploader, opts Options) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")
	logger := opts.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Mirror{up: up, opts: opts, log: logger, jobs: make(chan string, opts.Queue)}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
	default:
		n := m.dropped.Add(1)
		m.log.Printf("mirror: drop local=%s reason=queue_full dropped_total=%d", localPath, n)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		EnqueuedTotal: m.enqueued.Load(),
		DroppedTotal:  m.dropped.Load(),
		UploadedTotal: m.uploaded.Load(),
		FailedTotal:   m.failed.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.key(localPath)
	if err != nil {
		m.failed.Add(1)
		m.log.Printf("mirror: skip local=%s err=%v", localPath, err)
		return
	}
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.log.Printf("mirror: uploaded key=%s", key)
			return
		}
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	m.failed.Add(1)
	m.log.Printf("mirror: upload failed key=%s err=%v", key, err)
}

func (m *Mirror) key(localPath string) (string, error) {
	rel := filepath.Base(localPath)
	if m.opts.BaseDir != "" {
		absBase, err := filepath.Abs(m.opts.BaseDir)
		if err != nil {
			return "", err
		}
		absLocal, err := filepath.Abs(localPath)
		if err != nil {
			return "", err
		}
		rel, err = filepath.Rel(absBase, absLocal)
		if err != nil {
			return "", err
		}
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside %s", localPath, m.opts.BaseDir)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}
