package db

import (
	"time"

	"gorm.io/datatypes"
)

// Account represents an operator that can claim ownership of game servers.
// The bootstrap admin account (from env) is created as a row on startup.
type Account struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:255;not null"`

	// IsAdmin marks accounts that can link servers and manage module
	// subscriptions across all servers.
	IsAdmin bool `gorm:"default:false"`
}

// Server is one game server sending telemetry. A server is created on
// first sighting (handshake or ingest attempt) but batches are only
// indexed once it has been linked to an owning account.
type Server struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// ExternalID is the producer-supplied X-Server-Id value.
	ExternalID string `gorm:"uniqueIndex;size:64;not null"`

	// AccountID is nil until an operator claims the server. Unlinked
	// servers receive waiting_for_registration on ingest.
	AccountID *uint `gorm:"index"`

	Name       string `gorm:"size:128"`
	LastSeenAt time.Time
}

// Session is one capture-agent run on a server (typically a server process
// lifetime). Sessions group batches for later evidence resolution.
type Session struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	ServerID   uint   `gorm:"uniqueIndex:idx_session_unique,priority:1;not null"`
	ExternalID string `gorm:"uniqueIndex:idx_session_unique,priority:2;size:64;not null"`

	LastSeenAt time.Time
}

// Player is one observed player identity on a server.
type Player struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	ServerID uint   `gorm:"uniqueIndex:idx_player_unique,priority:1;not null"`
	UUID     string `gorm:"uniqueIndex:idx_player_unique,priority:2;size:36;not null"`

	Name       string `gorm:"size:64"`
	LastSeenAt time.Time
}

// Batch is the immutable metadata row for one ingested telemetry batch.
// The raw compressed payload lives in the object store under RawObjectKey;
// this row is only written after the object write has completed, so a
// resolvable batch ID always has a retrievable payload.
type Batch struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	ServerID  uint `gorm:"index;not null"`
	SessionID uint `gorm:"index;not null"`

	ReceivedAt   time.Time
	RawObjectKey string `gorm:"size:512;not null"`
	PayloadBytes int64
	EventCount   int

	// MinTS/MaxTS are the epoch-millisecond bounds of the event
	// timestamps inside the batch.
	MinTS int64
	MaxTS int64
}

// ModuleSubscription ties one detection module to one server. Health
// fields are mutated by dispatch outcomes and the health-check loop.
type ModuleSubscription struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	ServerID uint   `gorm:"uniqueIndex:idx_module_sub_unique,priority:1;not null"`
	Name     string `gorm:"uniqueIndex:idx_module_sub_unique,priority:2;size:64;not null"`

	BaseURL string `gorm:"size:255;not null"`
	Enabled bool   `gorm:"default:true"`

	// Transform selects the delivery payload shape: "packets" sends the
	// parsed event lines, "meta" sends batch metadata only (the module
	// fetches raw bytes from the object store itself).
	Transform string `gorm:"size:32;default:packets"`

	LastHealthcheckAt   *time.Time
	LastHealthcheckOK   bool
	ConsecutiveFailures int    `gorm:"not null;default:0"`
	LastError           string `gorm:"size:512"`
}

// DispatchRecord is the append-only audit row for one delivery attempt of
// one batch to one module.
type DispatchRecord struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time

	BatchID  uint `gorm:"index;not null"`
	ServerID uint `gorm:"index;not null"`
	ModuleID uint `gorm:"index;not null"`

	// Status is "sent" or "failed".
	Status     string `gorm:"size:16;not null"`
	HTTPStatus int
	Error      string `gorm:"size:512"`
}

// Finding is a deduplicated detection result. At most one row exists per
// (server, player, detector, minute window) when PlayerUUID is non-null;
// repeated detections in the same minute increment Occurrences.
type Finding struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	ServerID      uint    `gorm:"uniqueIndex:idx_finding_unique,priority:1;not null"`
	PlayerUUID    *string `gorm:"uniqueIndex:idx_finding_unique,priority:2;size:36"`
	DetectorName  string  `gorm:"uniqueIndex:idx_finding_unique,priority:3;size:64;not null"`
	WindowStartAt time.Time `gorm:"uniqueIndex:idx_finding_unique,priority:4;not null"`

	Severity    string `gorm:"size:16"`
	Title       string `gorm:"size:255"`
	Description string

	// Evidence holds detector-supplied context (batch IDs, observed
	// values, VL at report time) without schema commitments.
	Evidence datatypes.JSONMap `gorm:"type:json"`

	Occurrences int64 `gorm:"not null;default:1"`
	FirstSeenAt time.Time
	LastSeenAt  time.Time

	// Status is "open", "confirmed" or "dismissed".
	Status string `gorm:"size:16;default:open"`
}

// ModulePlayerState is the opaque per-(server, module, player) state blob
// detection modules persist across batches. Owned exclusively by the
// module that wrote it; last write wins.
type ModulePlayerState struct {
	ID uint `gorm:"primaryKey"`

	UpdatedAt time.Time

	ServerID   uint   `gorm:"uniqueIndex:idx_player_state_unique,priority:1;not null"`
	ModuleName string `gorm:"uniqueIndex:idx_player_state_unique,priority:2;size:64;not null"`
	PlayerUUID string `gorm:"uniqueIndex:idx_player_state_unique,priority:3;size:36;not null"`

	State datatypes.JSONMap `gorm:"type:json"`
}

// ModuleGlobalState is the per-(server, module) equivalent of
// ModulePlayerState for state that is not tied to a single player.
type ModuleGlobalState struct {
	ID uint `gorm:"primaryKey"`

	UpdatedAt time.Time

	ServerID   uint   `gorm:"uniqueIndex:idx_global_state_unique,priority:1;not null"`
	ModuleName string `gorm:"uniqueIndex:idx_global_state_unique,priority:2;size:64;not null"`

	State datatypes.JSONMap `gorm:"type:json"`
}
