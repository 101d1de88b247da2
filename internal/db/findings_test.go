package db

import (
	"testing"
	"time"

	"gorm.io/datatypes"
)

func TestWindowStart(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 34, 56, 789000000, time.UTC)
	want := time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC)
	if got := WindowStart(at); !got.Equal(want) {
		t.Fatalf("WindowStart = %v, want %v", got, want)
	}

	// Non-UTC inputs normalize to the same bucket.
	loc := time.FixedZone("KST", 9*3600)
	if got := WindowStart(at.In(loc)); !got.Equal(want) {
		t.Fatalf("WindowStart in KST = %v, want %v", got, want)
	}
}

func TestFindingUpsertRow(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 34, 56, 0, time.UTC)
	f := FindingUpsert{
		ServerID:     7,
		PlayerUUID:   "u1",
		DetectorName: "clickspeed",
		DetectedAt:   at,
		Severity:     "high",
		Title:        "clickspeed",
		Evidence:     datatypes.JSONMap{"vl": 42.0},
	}

	row := f.Row()
	if row.PlayerUUID == nil || *row.PlayerUUID != "u1" {
		t.Fatalf("PlayerUUID = %v, want u1", row.PlayerUUID)
	}
	if !row.WindowStartAt.Equal(time.Date(2026, 3, 1, 12, 34, 0, 0, time.UTC)) {
		t.Fatalf("WindowStartAt = %v", row.WindowStartAt)
	}
	if row.Occurrences != 1 || row.Status != "open" {
		t.Fatalf("row = %+v, want occurrences 1 and open status", row)
	}
	if !row.FirstSeenAt.Equal(at) || !row.LastSeenAt.Equal(at) {
		t.Fatalf("seen bounds = %v..%v, want %v", row.FirstSeenAt, row.LastSeenAt, at)
	}

	// Server-wide findings carry a null player key so they never collapse
	// into a player's bucket.
	f.PlayerUUID = ""
	if got := f.Row(); got.PlayerUUID != nil {
		t.Fatalf("server-wide PlayerUUID = %v, want nil", got.PlayerUUID)
	}
}

func TestFindingRowsSharePlayerBucket(t *testing.T) {
	base := FindingUpsert{
		ServerID:     7,
		PlayerUUID:   "u1",
		DetectorName: "clickspeed",
	}

	a, b := base, base
	a.DetectedAt = time.Date(2026, 3, 1, 12, 34, 5, 0, time.UTC)
	b.DetectedAt = time.Date(2026, 3, 1, 12, 34, 55, 0, time.UTC)

	ra, rb := a.Row(), b.Row()
	if !ra.WindowStartAt.Equal(rb.WindowStartAt) {
		t.Fatalf("same-minute findings got different buckets: %v vs %v",
			ra.WindowStartAt, rb.WindowStartAt)
	}

	b.DetectedAt = b.DetectedAt.Add(time.Minute)
	if ra.WindowStartAt.Equal(b.Row().WindowStartAt) {
		t.Fatal("findings a minute apart share a bucket")
	}
}
