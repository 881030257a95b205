package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"matterlink.ai/internal/sim/grid"
)

// ListFiles returns dir's "<prefix>-*.jsonl.zst" files in name order, which
// is also hour order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, segmentExt) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ScanFile calls fn for every line of a compressed JSONL file.
func ScanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

// ReadTickLog loads every tick entry under gridDir/ticks.
func ReadTickLog(gridDir string) ([]grid.TickLogEntry, error) {
	var out []grid.TickLogEntry
	err := readAll(filepath.Join(gridDir, "ticks"), "ticks", func(line []byte) error {
		var e grid.TickLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// ReadAuditLog loads every audit entry under gridDir/audit, in write order.
func ReadAuditLog(gridDir string) ([]grid.AuditEntry, error) {
	var out []grid.AuditEntry
	err := readAll(filepath.Join(gridDir, "audit"), "audit", func(line []byte) error {
		var e grid.AuditEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

func readAll(dir, prefix string, fn func(line []byte) error) error {
	files, err := ListFiles(dir, prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, p := range files {
		if err := ScanFile(p, fn); err != nil {
			return err
		}
	}
	return nil
}
