package observerproto

// Version is the observer feed protocol version.
const Version = "1.0"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// EveryTicks thins the feed to one TICK message per N ticks. Quiet ticks
	// are always skipped unless IncludeQuiet is set.
	EveryTicks   int  `json:"every_ticks,omitempty"`
	IncludeQuiet bool `json:"include_quiet,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	GridID          string    `json:"grid_id"`
	Tick            uint64    `json:"tick"`
	TickRateHz      int       `json:"tick_rate_hz"`
	Mirror          bool      `json:"mirror"`
	Tiers           []TierRow `json:"tiers"`
}

type TierRow struct {
	Tier              string `json:"tier"`
	CollectorOutput   int64  `json:"collector_output"`
	RelayBonus        int64  `json:"relay_bonus"`
	RelayTransfer     int64  `json:"relay_transfer"`
	PowerFlowerOutput int64  `json:"power_flower_output"`
}

// Server -> Client. EMC amounts are decimal strings.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Produced    string `json:"produced"`
	Distributed string `json:"distributed"`
	Flushed     string `json:"flushed"`
	Charged     string `json:"charged"`
	CraftSpent  string `json:"craft_spent"`
	Converted   int64  `json:"converted"`
	Bonuses     int    `json:"bonuses"`

	Crafts []CraftInfo `json:"crafts,omitempty"`
	Digest string      `json:"digest"`
}

type CraftInfo struct {
	Player   string `json:"player"`
	RecipeID string `json:"recipe_id"`
	Crafted  int    `json:"crafted"`
	Spent    string `json:"spent"`
	Code     string `json:"code,omitempty"`
}
