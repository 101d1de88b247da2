package db

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetPlayerStates loads the state blobs for the given players under one
// (server, module) scope. Players with no stored state are absent from the
// returned map; callers start those from empty state.
func GetPlayerStates(db *gorm.DB, serverID uint, moduleName string, playerUUIDs []string) (map[string]datatypes.JSONMap, error) {
	out := make(map[string]datatypes.JSONMap, len(playerUUIDs))
	if len(playerUUIDs) == 0 {
		return out, nil
	}

	var rows []ModulePlayerState
	err := db.Where("server_id = ? AND module_name = ? AND player_uuid IN ?",
		serverID, moduleName, playerUUIDs).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PlayerUUID] = r.State
	}
	return out, nil
}

// PutPlayerStates stores state blobs with last-write-wins semantics. The
// store offers no optimistic concurrency; callers needing read-modify-write
// consistency must serialize per (server, module, player) — the dispatcher's
// sequencer provides this per (server, module).
func PutPlayerStates(db *gorm.DB, serverID uint, moduleName string, updates map[string]datatypes.JSONMap) error {
	if len(updates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]ModulePlayerState, 0, len(updates))
	for uuid, state := range updates {
		rows = append(rows, ModulePlayerState{
			UpdatedAt:  now,
			ServerID:   serverID,
			ModuleName: moduleName,
			PlayerUUID: uuid,
			State:      state,
		})
	}

	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "server_id"}, {Name: "module_name"}, {Name: "player_uuid"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&rows).Error
}

// GetGlobalState loads the server-global state blob for one module, or nil
// when none has been stored yet.
func GetGlobalState(db *gorm.DB, serverID uint, moduleName string) (datatypes.JSONMap, error) {
	var row ModuleGlobalState
	err := db.Where("server_id = ? AND module_name = ?", serverID, moduleName).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.State, nil
}

// PutGlobalState stores the server-global blob, last write wins.
func PutGlobalState(db *gorm.DB, serverID uint, moduleName string, state datatypes.JSONMap) error {
	row := ModuleGlobalState{
		UpdatedAt:  time.Now().UTC(),
		ServerID:   serverID,
		ModuleName: moduleName,
		State:      state,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "module_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&row).Error
}
