package grid

import "matterlink.ai/internal/sim/emc"

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// TickLogEntry is the per-tick record handed to loggers, the index and the
// observer feed. EMC amounts are decimal strings.
type TickLogEntry struct {
	Tick        uint64          `json:"tick"`
	Produced    string          `json:"produced"`
	Distributed string          `json:"distributed"`
	Flushed     string          `json:"flushed"`
	Charged     string          `json:"charged"`
	CraftSpent  string          `json:"craft_spent"`
	Converted   int64           `json:"converted"`
	Bonuses     int             `json:"bonuses"`
	Crafts      []RecordedCraft `json:"crafts,omitempty"`
	Digest      string          `json:"digest"`
}

// Quiet reports whether nothing moved during the tick.
func (e TickLogEntry) Quiet() bool {
	return len(e.Crafts) == 0 && e.Converted == 0 && e.Bonuses == 0 &&
		isZeroAmount(e.Produced) && isZeroAmount(e.Distributed) && isZeroAmount(e.Flushed) &&
		isZeroAmount(e.Charged) && isZeroAmount(e.CraftSpent)
}

func isZeroAmount(s string) bool { return s == "" || s == "0" }

type RecordedCraft struct {
	Player   string `json:"player"`
	RecipeID string `json:"recipe_id"`
	Crafted  int    `json:"crafted"`
	Spent    string `json:"spent"`
	Code     string `json:"code,omitempty"`
}

type AuditEntry struct {
	Tick    uint64         `json:"tick"`
	Actor   string         `json:"actor"`
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}

// GridMetrics is a cheap summary readable from any goroutine.
type GridMetrics struct {
	Tick     uint64  `json:"tick"`
	Blocks   int     `json:"blocks"`
	Accounts int     `json:"accounts"`
	StepMS   float64 `json:"step_ms"`
	// Write failures reported by the tick and audit loggers.
	TickLogErrors  uint64 `json:"tick_log_errors"`
	AuditLogErrors uint64 `json:"audit_log_errors"`
}

func tickEntry(s TickStats, crafts []RecordedCraft, digest string) TickLogEntry {
	return TickLogEntry{
		Tick:        s.Tick,
		Produced:    emc.Format(s.Produced),
		Distributed: emc.Format(s.Distributed),
		Flushed:     emc.Format(s.Flushed),
		Charged:     emc.Format(s.Charged),
		CraftSpent:  emc.Format(s.CraftSpent),
		Converted:   s.Converted,
		Bonuses:     s.Bonuses,
		Crafts:      crafts,
		Digest:      digest,
	}
}
