// Package log keeps the grid's replayable record: one stream of tick
// summaries and one of audited inputs, both as zstd-compressed JSON lines
// split into hourly segments under the grid directory.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"matterlink.ai/internal/sim/grid"
)

const (
	segmentExt    = ".jsonl.zst"
	segmentLayout = "2006-01-02-15"
)

// segmentPath is where records written during hour t land.
func segmentPath(dir, prefix string, t time.Time) string {
	return filepath.Join(dir, prefix+"-"+t.UTC().Format(segmentLayout)+segmentExt)
}

// segment is one open hour file. Reopening an existing hour appends a new
// zstd frame, which readers decode as one stream.
type segment struct {
	path string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
}

func openSegment(path string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{path: path, file: f, zw: zw, buf: bufio.NewWriterSize(zw, 64*1024)}, nil
}

// append writes one line and flushes it through the encoder so a crash loses
// at most the record being written.
func (s *segment) append(line []byte) error {
	if _, err := s.buf.Write(line); err != nil {
		return err
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.zw.Flush()
}

func (s *segment) close() error {
	ferr := s.buf.Flush()
	zerr := s.zw.Close()
	cerr := s.file.Close()
	for _, err := range []error{ferr, zerr, cerr} {
		if err != nil {
			return fmt.Errorf("close %s: %w", filepath.Base(s.path), err)
		}
	}
	return nil
}

// Stream is an hourly-segmented record stream.
type Stream struct {
	dir    string
	prefix string
	clock  func() time.Time

	mu       sync.Mutex
	cur      *segment
	records  uint64
	segments uint64
}

func NewStream(dir, prefix string) *Stream {
	return &Stream{dir: dir, prefix: prefix, clock: time.Now}
}

// Append encodes v and adds it to the segment for the current hour.
func (s *Stream) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := segmentPath(s.dir, s.prefix, s.clock())
	if s.cur == nil || s.cur.path != path {
		if s.cur != nil {
			err := s.cur.close()
			s.cur = nil
			if err != nil {
				return err
			}
		}
		seg, err := openSegment(path)
		if err != nil {
			return err
		}
		s.cur = seg
		s.segments++
	}
	if err := s.cur.append(line); err != nil {
		return err
	}
	s.records++
	return nil
}

// Counts reports records appended and segments opened since start.
func (s *Stream) Counts() (records, segments uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records, s.segments
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	err := s.cur.close()
	s.cur = nil
	return err
}

// TickLogger records tick summaries in <grid>/ticks. Quiet ticks are left
// out; replay only compares the digests that were written.
type TickLogger struct{ s *Stream }

func NewTickLogger(gridDir string) *TickLogger {
	return &TickLogger{s: NewStream(filepath.Join(gridDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(e grid.TickLogEntry) error {
	if e.Quiet() {
		return nil
	}
	return l.s.Append(e)
}

func (l *TickLogger) Close() error { return l.s.Close() }

// AuditLogger records crafts and presence changes in <grid>/audit.
type AuditLogger struct{ s *Stream }

func NewAuditLogger(gridDir string) *AuditLogger {
	return &AuditLogger{s: NewStream(filepath.Join(gridDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(e grid.AuditEntry) error { return l.s.Append(e) }

func (l *AuditLogger) Close() error { return l.s.Close() }

var (
	_ grid.TickLogger  = (*TickLogger)(nil)
	_ grid.AuditLogger = (*AuditLogger)(nil)
)
