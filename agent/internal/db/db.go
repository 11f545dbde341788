package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	mu  sync.RWMutex
	gdb *gorm.DB
)

// Init opens the agent's SQLite database and migrates its tables.
func Init(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := conn.AutoMigrate(&DispatchedFile{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	mu.Lock()
	gdb = conn
	mu.Unlock()
	return conn, nil
}

func Get() *gorm.DB {
	mu.RLock()
	defer mu.RUnlock()
	return gdb
}

func RecordDispatch(conn *gorm.DB, f *DispatchedFile) error {
	return conn.Create(f).Error
}

func UpdateProgress(conn *gorm.DB, sessionID string, sent int, status, message string) error {
	return conn.Model(&DispatchedFile{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"sent_chunks": sent, "status": status, "message": message}).Error
}

// ApplyResult stores the final backend status of a session. Unknown sessions
// (sent by another agent) are ignored.
func ApplyResult(conn *gorm.DB, sessionID, status, message string, at time.Time) (bool, error) {
	if at.IsZero() {
		at = time.Now()
	}
	res := conn.Model(&DispatchedFile{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{"status": status, "message": message, "completed_at": at})
	return res.RowsAffected > 0, res.Error
}

func FindBySession(conn *gorm.DB, sessionID string) (*DispatchedFile, error) {
	var f DispatchedFile
	if err := conn.Where("session_id = ?", sessionID).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}
