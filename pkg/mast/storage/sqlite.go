//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	customlogger "github.com/himanishpuri/mast/pkg/logger"
	"github.com/himanishpuri/mast/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "mast.sqlite3"
const errDBClientNil = "db client is nil"

// ErrNotFound is returned when a search id is not in the history.
var ErrNotFound = errors.New("storage: search not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Search is one finished run. Results are stored as JSON in the row;
// history is an audit trail, embeddings are never persisted.
type Search struct {
	ID            string         `gorm:"primaryKey;type:varchar(36)"`
	ReferencePath string         `gorm:"index:idx_search_reference"`
	RootDir       string
	Threshold     float64
	MaxResults    int
	Metric        string
	State         string         `gorm:"index:idx_search_state"`
	Error         string
	Processed     int
	Skipped       int
	Results       []models.Match `gorm:"serializer:json"`
	StartedAt     time.Time      `gorm:"index:idx_search_started"`
	CompletedAt   time.Time
	CreatedAt     time.Time
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("MAST_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Search{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &DBClient{DB: db, db: sqlDB}, nil
}

func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SaveSearch upserts rec. An empty ID gets a fresh uuid, which is returned.
func (c *DBClient) SaveSearch(ctx context.Context, rec models.SearchRecord) (string, error) {
	if c == nil || c.DB == nil {
		return "", errors.New(errDBClientNil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := fromRecord(rec)
	if err := c.DB.WithContext(ctx).Save(&row).Error; err != nil {
		return "", fmt.Errorf("saving search %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

func (c *DBClient) GetSearch(ctx context.Context, id string) (*models.SearchRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var row Search
	err := c.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying search %s: %w", id, err)
	}
	rec := row.record()
	return &rec, nil
}

// ListSearches returns the newest runs first. limit <= 0 means all.
func (c *DBClient) ListSearches(ctx context.Context, limit int) ([]models.SearchRecord, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	q := c.DB.WithContext(ctx).Order("started_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Search
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing searches: %w", err)
	}
	out := make([]models.SearchRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (c *DBClient) DeleteSearch(ctx context.Context, id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	res := c.DB.WithContext(ctx).Where("id = ?", id).Delete(&Search{})
	if res.Error != nil {
		return fmt.Errorf("deleting search %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// PruneBefore deletes runs started before cutoff and reports how many went.
func (c *DBClient) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	res := c.DB.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&Search{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning history: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (c *DBClient) CountSearches(ctx context.Context) (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.WithContext(ctx).Model(&Search{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting searches: %w", err)
	}
	return n, nil
}

func fromRecord(rec models.SearchRecord) Search {
	return Search{
		ID:            rec.ID,
		ReferencePath: rec.Request.ReferencePath,
		RootDir:       rec.Request.RootDir,
		Threshold:     rec.Request.Threshold,
		MaxResults:    rec.Request.MaxResults,
		Metric:        rec.Request.Metric,
		State:         rec.State,
		Error:         rec.Error,
		Processed:     rec.Processed,
		Skipped:       rec.Skipped,
		Results:       rec.Results,
		StartedAt:     rec.StartedAt,
		CompletedAt:   rec.CompletedAt,
	}
}

func (s Search) record() models.SearchRecord {
	return models.SearchRecord{
		ID: s.ID,
		Request: models.SearchRequest{
			ReferencePath: s.ReferencePath,
			RootDir:       s.RootDir,
			Threshold:     s.Threshold,
			MaxResults:    s.MaxResults,
			Metric:        s.Metric,
		},
		State:       s.State,
		Error:       s.Error,
		Processed:   s.Processed,
		Skipped:     s.Skipped,
		Results:     s.Results,
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}

// MustNewDBClient opens the default database or panics.
func MustNewDBClient() *DBClient {
	cli, err := NewDBClient()
	if err != nil {
		customlogger.GetLogger().Errorf("failed to open DB: %v", err)
		panic(err)
	}
	return cli
}
