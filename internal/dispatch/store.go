package dispatch

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "packetwatch/internal/db"
)

// Store is the persistence surface the dispatcher and health checker need.
// Narrow on purpose so dispatch logic tests run against a fake.
type Store interface {
	EnabledSubscriptions(serverID uint) ([]dbpkg.ModuleSubscription, error)
	AllSubscriptions() ([]dbpkg.ModuleSubscription, error)
	RecordDispatch(rec *dbpkg.DispatchRecord) error
	MarkDispatchFailure(moduleID uint, lastError string) (int, error)
	MarkDispatchSuccess(moduleID uint) error
	MarkHealthcheck(moduleID uint, at time.Time, ok bool, lastError string) error
	PlayerStates(serverID uint, moduleName string, playerUUIDs []string) (map[string]map[string]any, error)
}

// GormStore implements Store on the relational index.
type GormStore struct {
	DB *gorm.DB
}

func (s *GormStore) EnabledSubscriptions(serverID uint) ([]dbpkg.ModuleSubscription, error) {
	return dbpkg.EnabledSubscriptions(s.DB, serverID)
}

func (s *GormStore) AllSubscriptions() ([]dbpkg.ModuleSubscription, error) {
	return dbpkg.AllSubscriptions(s.DB)
}

func (s *GormStore) RecordDispatch(rec *dbpkg.DispatchRecord) error {
	return dbpkg.RecordDispatch(s.DB, rec)
}

func (s *GormStore) MarkDispatchFailure(moduleID uint, lastError string) (int, error) {
	return dbpkg.MarkDispatchFailure(s.DB, moduleID, lastError)
}

func (s *GormStore) MarkDispatchSuccess(moduleID uint) error {
	return dbpkg.MarkDispatchSuccess(s.DB, moduleID)
}

func (s *GormStore) MarkHealthcheck(moduleID uint, at time.Time, ok bool, lastError string) error {
	return dbpkg.MarkHealthcheck(s.DB, moduleID, at, ok, lastError)
}

func (s *GormStore) PlayerStates(serverID uint, moduleName string, playerUUIDs []string) (map[string]map[string]any, error) {
	states, err := dbpkg.GetPlayerStates(s.DB, serverID, moduleName, playerUUIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(states))
	for uuid, state := range states {
		out[uuid] = map[string]any(datatypes.JSONMap(state))
	}
	return out, nil
}
