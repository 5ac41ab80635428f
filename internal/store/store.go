// Package store persists session records and their scrollback. Records live
// in a SQLite database (via gorm); scrollback lives in one log file per
// session handle next to it.
package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	dbFileName = "sessions.db"
	logDirName = "logs"
)

func logf(format string, args ...any) {
	log.Printf("[store] "+format, args...)
}

// Store saves and restores the session table.
type Store struct {
	mu     sync.Mutex
	db     *gorm.DB
	logDir string
}

// Open opens (creating if needed) the session database under dataPath.
func Open(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(filepath.Join(dataPath, dbFileName)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	return New(db, filepath.Join(dataPath, logDirName))
}

// New wraps an open database. Scrollback files go to logDir; an empty
// logDir keeps scrollback in memory.
func New(db *gorm.DB, logDir string) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Store{db: db, logDir: logDir}, nil
}

// NewInfo returns a fresh record whose scrollback is kept by this store.
func (s *Store) NewInfo() *Info {
	return NewInfo(s.logDir)
}

// LogDir returns the directory holding scrollback files.
func (s *Store) LogDir() string {
	return s.logDir
}

// SaveAll replaces the persisted session table with infos.
func (s *Store) SaveAll(infos []*Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]Record, 0, len(infos))
	handles := make([]string, 0, len(infos))
	for _, info := range infos {
		rec := info.Record()
		if rec.Handle == "" {
			continue
		}
		records = append(records, rec)
		handles = append(handles, rec.Handle)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		del := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(handles) > 0 {
			del = del.Where("handle NOT IN ?", handles)
		}
		if err := del.Delete(&Record{}).Error; err != nil {
			return fmt.Errorf("delete stale sessions: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&records).Error; err != nil {
			return fmt.Errorf("save sessions: %w", err)
		}
		return nil
	})
}

// LoadAll restores every persisted session record.
func (s *Store) LoadAll() ([]*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []Record
	if err := s.db.Order("created_at").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	infos := make([]*Info, 0, len(records))
	for _, rec := range records {
		infos = append(infos, NewInfoFromRecord(rec, s.logDir))
	}
	return infos, nil
}

// Delete removes a session record and its scrollback.
func (s *Store) Delete(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Where("handle = ?", handle).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("delete session %s: %w", handle, err)
	}
	info := NewInfoFromRecord(Record{Handle: handle}, s.logDir)
	info.DeleteLogFile(false)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
