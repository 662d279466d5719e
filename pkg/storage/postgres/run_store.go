package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"testbot/pkg/models"
	"testbot/pkg/storage"
)

type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore initializes GORM connection and AutoMigrates schemas.
func NewPostgresStore(connString string) (*PostgresStore, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(&models.RunRecord{}, &models.OutcomeRecord{})
	if err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordRun persists a run together with its outcomes in one transaction.
func (s *PostgresStore) RecordRun(ctx context.Context, run *models.RunRecord) error {
	result := s.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		return fmt.Errorf("failed to record run: %w", result.Error)
	}
	return nil
}

// ListRuns returns the most recent runs without outcomes.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	var runs []models.RunRecord

	result := s.db.WithContext(ctx).
		Order("started_at desc").
		Limit(limit).
		Find(&runs)

	if result.Error != nil {
		return nil, fmt.Errorf("failed to list runs: %w", result.Error)
	}
	return runs, nil
}

// GetRun retrieves a run with its outcomes in log order.
func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	var run models.RunRecord
	result := s.db.WithContext(ctx).
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq asc")
		}).
		First(&run, "id = ?", id)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

// PruneRuns deletes runs that started before cutoff and returns how many
// were removed. Outcomes go with them through the cascade.
func (s *PostgresStore) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("started_at < ?", cutoff).
		Delete(&models.RunRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ storage.RunStore = (*PostgresStore)(nil)
