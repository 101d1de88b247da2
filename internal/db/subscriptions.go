package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// builtinModule is one entry of the fixed catalog registered for every
// server on first sighting. The ports follow the deployment convention of
// one module daemon per tier on the local network.
type builtinModule struct {
	Name string
	Port int
}

var builtinModules = []builtinModule{
	{Name: "movement", Port: 9101},
	{Name: "combat", Port: 9102},
	{Name: "interaction", Port: 9103},
}

// EnsureBuiltinModules registers the built-in module catalog for a server.
// Idempotent: existing subscriptions with the same name are left untouched,
// including ones an operator has re-pointed or disabled.
func EnsureBuiltinModules(db *gorm.DB, serverID uint) error {
	for _, m := range builtinModules {
		sub := ModuleSubscription{
			ServerID:  serverID,
			Name:      m.Name,
			BaseURL:   fmt.Sprintf("http://127.0.0.1:%d", m.Port),
			Enabled:   true,
			Transform: "packets",
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "server_id"}, {Name: "name"}},
			DoNothing: true,
		}).Create(&sub).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// UpsertSubscription registers or updates an explicit module subscription.
func UpsertSubscription(db *gorm.DB, sub *ModuleSubscription) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"base_url", "enabled", "transform", "updated_at"}),
	}).Create(sub).Error
}

// ListSubscriptions returns all subscriptions for a server, health fields
// included.
func ListSubscriptions(db *gorm.DB, serverID uint) ([]ModuleSubscription, error) {
	var subs []ModuleSubscription
	err := db.Where("server_id = ?", serverID).Order("name").Find(&subs).Error
	return subs, err
}

// EnabledSubscriptions returns the enabled subscriptions for a server.
// Health filtering happens at the dispatcher, which also knows the
// unhealthy threshold.
func EnabledSubscriptions(db *gorm.DB, serverID uint) ([]ModuleSubscription, error) {
	var subs []ModuleSubscription
	err := db.Where("server_id = ? AND enabled = ?", serverID, true).Order("name").Find(&subs).Error
	return subs, err
}

// AllSubscriptions returns every registered subscription across servers,
// for the health-check loop.
func AllSubscriptions(db *gorm.DB) ([]ModuleSubscription, error) {
	var subs []ModuleSubscription
	err := db.Find(&subs).Error
	return subs, err
}

// RecordDispatch appends one dispatch audit row.
func RecordDispatch(db *gorm.DB, rec *DispatchRecord) error {
	return db.Create(rec).Error
}

// MarkDispatchFailure increments a module's consecutive failure counter and
// stores the last error. Returns the new counter value so the dispatcher
// can log the unhealthy transition.
func MarkDispatchFailure(db *gorm.DB, moduleID uint, lastError string) (int, error) {
	err := db.Model(&ModuleSubscription{}).Where("id = ?", moduleID).
		Updates(map[string]interface{}{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"last_error":           lastError,
		}).Error
	if err != nil {
		return 0, err
	}

	var sub ModuleSubscription
	if err := db.Select("consecutive_failures").Where("id = ?", moduleID).First(&sub).Error; err != nil {
		return 0, err
	}
	return sub.ConsecutiveFailures, nil
}

// MarkDispatchSuccess clears the failure bookkeeping after a delivered batch.
func MarkDispatchSuccess(db *gorm.DB, moduleID uint) error {
	return db.Model(&ModuleSubscription{}).Where("id = ?", moduleID).
		Updates(map[string]interface{}{
			"consecutive_failures": 0,
			"last_error":           "",
		}).Error
}

// MarkHealthcheck records the outcome of one health probe. A successful
// probe resets consecutive_failures so the dispatcher resumes delivery.
func MarkHealthcheck(db *gorm.DB, moduleID uint, at time.Time, ok bool, lastError string) error {
	updates := map[string]interface{}{
		"last_healthcheck_at": at,
		"last_healthcheck_ok": ok,
	}
	if ok {
		updates["consecutive_failures"] = 0
		updates["last_error"] = ""
	} else if lastError != "" {
		updates["last_error"] = lastError
	}
	return db.Model(&ModuleSubscription{}).Where("id = ?", moduleID).Updates(updates).Error
}
