package persistence

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLStore keeps watcher state in SQLite. Email settings are configuration
// only and are not stored.
type SQLStore struct {
	db *gorm.DB
}

func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Watcher{}); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context) (*WatcherSet, error) {
	var watchers []Watcher

	if err := s.db.WithContext(ctx).Order("url").Find(&watchers).Error; err != nil {
		return nil, fmt.Errorf("could not load watchers: %w", err)
	}

	return &WatcherSet{Watchers: watchers}, nil
}

// Save replaces every stored watcher with the ones in set in one transaction.
func (s *SQLStore) Save(ctx context.Context, set *WatcherSet) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Watcher{}).Error; err != nil {
			return fmt.Errorf("could not clear watchers: %w", err)
		}

		if len(set.Watchers) == 0 {
			return nil
		}

		if err := tx.Create(&set.Watchers).Error; err != nil {
			return fmt.Errorf("could not insert watchers: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("could not save: %w", err)
	}

	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
