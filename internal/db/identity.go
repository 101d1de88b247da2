package db

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TouchServer finds or creates the Server row for an external server ID and
// refreshes its LastSeenAt. Built-in module subscriptions are registered on
// first sighting.
func TouchServer(db *gorm.DB, externalID string, now time.Time) (*Server, error) {
	var srv Server
	err := db.Where("external_id = ?", externalID).First(&srv).Error
	if err == gorm.ErrRecordNotFound {
		srv = Server{ExternalID: externalID, LastSeenAt: now}
		if err := db.Create(&srv).Error; err != nil {
			return nil, err
		}
		if err := EnsureBuiltinModules(db, srv.ID); err != nil {
			return nil, err
		}
		return &srv, nil
	}
	if err != nil {
		return nil, err
	}

	srv.LastSeenAt = now
	if err := db.Model(&srv).Update("last_seen_at", now).Error; err != nil {
		return nil, err
	}
	return &srv, nil
}

// Linked reports whether the server has been claimed by an account.
func (s *Server) Linked() bool { return s.AccountID != nil }

// LinkServer ties a server to an owning account. Idempotent.
func LinkServer(db *gorm.DB, serverID, accountID uint) error {
	return db.Model(&Server{}).Where("id = ?", serverID).
		Update("account_id", accountID).Error
}

// TouchSession finds or creates the Session row for (server, external
// session ID) and refreshes its LastSeenAt.
func TouchSession(db *gorm.DB, serverID uint, externalID string, now time.Time) (*Session, error) {
	var sess Session
	err := db.Where("server_id = ? AND external_id = ?", serverID, externalID).First(&sess).Error
	if err == gorm.ErrRecordNotFound {
		sess = Session{ServerID: serverID, ExternalID: externalID, LastSeenAt: now}
		if err := db.Create(&sess).Error; err != nil {
			return nil, err
		}
		return &sess, nil
	}
	if err != nil {
		return nil, err
	}

	if err := db.Model(&sess).Update("last_seen_at", now).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpsertPlayers refreshes the Player rows for every (uuid, name) pair seen
// in a batch. Names may change between sightings; the latest one wins.
func UpsertPlayers(db *gorm.DB, serverID uint, players map[string]string, now time.Time) error {
	if len(players) == 0 {
		return nil
	}

	rows := make([]Player, 0, len(players))
	for uuid, name := range players {
		rows = append(rows, Player{
			ServerID:   serverID,
			UUID:       uuid,
			Name:       name,
			LastSeenAt: now,
		})
	}

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "server_id"}, {Name: "uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "last_seen_at"}),
	}).Create(&rows).Error
}

// CreateBatch writes the immutable metadata row for an ingested batch.
// Callers must have persisted the raw payload under RawObjectKey first.
func CreateBatch(db *gorm.DB, b *Batch) error {
	return db.Create(b).Error
}
