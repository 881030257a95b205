package offsite

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Bucket the mirror needs.
type Uploader interface {
	Put(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Uploaded      uint64 `json:"uploaded_total"`
	Failed        uint64 `json:"failed_total"`
	Dropped       uint64 `json:"dropped_total"`
	LastTick      uint64 `json:"last_tick"`
}

type job struct {
	tick uint64
	path string
}

// Mirror uploads snapshot files in the background. Keys are
// <prefix>/<grid id>/snapshots/<file name>. Enqueue never blocks the caller;
// a full queue drops the job since the next snapshot supersedes it.
type Mirror struct {
	up     Uploader
	prefix string
	gridID string
	log    *log.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup

	uploaded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
	lastTick atomic.Uint64

	attempts int
	backoff  time.Duration
}

func NewMirror(up Uploader, prefix, gridID string, queue int, logger *log.Logger) *Mirror {
	if queue <= 0 {
		queue = 16
	}
	m := &Mirror{
		up:       up,
		prefix:   strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		gridID:   gridID,
		log:      logger,
		jobs:     make(chan job, queue),
		attempts: 4,
		backoff:  200 * time.Millisecond,
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for j := range m.jobs {
			m.upload(j)
		}
	}()
	return m
}

// Key is the object key a snapshot file is stored under.
func (m *Mirror) Key(localPath string) string {
	return path.Join(m.prefix, m.gridID, "snapshots", filepath.Base(localPath))
}

func (m *Mirror) Enqueue(tick uint64, localPath string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.dropped.Add(1)
		return
	}
	select {
	case m.jobs <- job{tick: tick, path: localPath}:
	default:
		m.dropped.Add(1)
		m.printf("offsite: drop snapshot tick=%d (queue full)", tick)
	}
}

// Close drains queued uploads; later Enqueue calls count as dropped.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		Dropped:       m.dropped.Load(),
		LastTick:      m.lastTick.Load(),
	}
}

func (m *Mirror) upload(j job) {
	key := m.Key(j.path)
	var err error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.Put(ctx, key, j.path)
		cancel()
		if err == nil {
			break
		}
		if attempt < m.attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	if err != nil {
		m.failed.Add(1)
		m.printf("offsite: upload %s failed: %v", key, err)
		return
	}
	m.uploaded.Add(1)
	if j.tick > m.lastTick.Load() {
		m.lastTick.Store(j.tick)
	}
	m.printf("offsite: uploaded %s", key)
}

func (m *Mirror) printf(format string, args ...any) {
	if m.log != nil {
		m.log.Printf(format, args...)
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("queue=%d/%d uploaded=%d failed=%d dropped=%d last_tick=%d",
		s.QueueDepth, s.QueueCapacity, s.Uploaded, s.Failed, s.Dropped, s.LastTick)
}
