package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the full grid state. EMC amounts are decimal strings since
// balances routinely exceed 64 bits; tick phases are single bytes.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate       int `json:"tick_rate_hz"`
	PeriodTicks    int `json:"period_ticks"`
	LinkFlushTicks int `json:"link_flush_ticks"`

	Blocks   []BlockV1   `json:"blocks"`
	Accounts []AccountV1 `json:"accounts"`
}

type BlockV1 struct {
	Pos     [3]int `json:"pos"`
	Kind    string `json:"kind"`
	Tier    uint8  `json:"tier"`
	Owner   string `json:"owner,omitempty"`
	Balance string `json:"balance"`
	Phase   uint8  `json:"phase"`

	// Relays.
	BonusTicks int64 `json:"bonus_ticks,omitempty"`
	Carry      int64 `json:"carry,omitempty"`

	// Machines, in external units.
	Demand   int64 `json:"demand,omitempty"`
	Received int64 `json:"received,omitempty"`
}

type AccountV1 struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
	Wallet string `json:"wallet"`

	Star         string `json:"star,omitempty"`
	StarCapacity string `json:"star_capacity,omitempty"`

	Learned   []string       `json:"learned,omitempty"`
	Inventory map[string]int `json:"inventory,omitempty"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
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

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
