package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WindowStart truncates a detection timestamp to its minute bucket. All
// findings for the same (server, player, detector) within one minute
// collapse into a single row.
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// FindingUpsert is one detection result heading for aggregation.
type FindingUpsert struct {
	ServerID     uint
	PlayerUUID   string // empty means a server-wide finding
	DetectorName string
	DetectedAt   time.Time

	Severity    string
	Title       string
	Description string
	Evidence    datatypes.JSONMap
}

// Row builds the Finding row an upsert would insert. Split out so the
// key derivation is testable without a database.
func (f *FindingUpsert) Row() Finding {
	var uuid *string
	if f.PlayerUUID != "" {
		u := f.PlayerUUID
		uuid = &u
	}
	seen := f.DetectedAt.UTC()
	return Finding{
		ServerID:      f.ServerID,
		PlayerUUID:    uuid,
		DetectorName:  f.DetectorName,
		WindowStartAt: WindowStart(f.DetectedAt),
		Severity:      f.Severity,
		Title:         f.Title,
		Description:   f.Description,
		Evidence:      f.Evidence,
		Occurrences:   1,
		FirstSeenAt:   seen,
		LastSeenAt:    seen,
		Status:        "open",
	}
}

// UpsertFinding performs the idempotent minute-bucket aggregation: insert a
// new row, or atomically increment occurrences and extend last_seen_at on
// the existing one. The increment happens inside the database so concurrent
// writers (two modules, or one retried delivery) never lose counts.
//
// Rows with a null player_uuid never conflict (Postgres treats NULLs as
// distinct), so server-wide findings always insert fresh rows.
func UpsertFinding(db *gorm.DB, f *FindingUpsert) error {
	row := f.Row()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "server_id"}, {Name: "player_uuid"},
			{Name: "detector_name"}, {Name: "window_start_at"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"occurrences":  gorm.Expr("findings.occurrences + 1"),
			"last_seen_at": gorm.Expr("GREATEST(findings.last_seen_at, excluded.last_seen_at)"),
			"severity":     row.Severity,
			"description":  row.Description,
			"evidence":     row.Evidence,
			"updated_at":   time.Now().UTC(),
		}),
	}).Create(&row).Error
}
