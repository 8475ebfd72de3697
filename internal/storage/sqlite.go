package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/himanishpuri/acousticlink/pkg/models"
	"github.com/himanishpuri/acousticlink/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const DefaultDBFile = "acousticlink.sqlite3"
const errDBClientNil = "db client is nil"

var ErrNotFound = errors.New("recognition not found")

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

// Recognition is one finished identification request.
type Recognition struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RequestID      string    `gorm:"type:varchar(36);index:idx_request_id" json:"request_id"`
	Path           string    `gorm:"index:idx_path" json:"path"` // capture or track
	Reference      string    `json:"reference"`                  // track URL or capture source
	Kind           string    `json:"kind,omitempty"`
	State          string    `json:"state"`
	Outcome        string    `gorm:"index:idx_outcome" json:"outcome"`
	MatchCount     int       `json:"match_count"`
	TopTitle       string    `json:"top_title,omitempty"`
	TopArtist      string    `json:"top_artist,omitempty"`
	TopScore       float64   `json:"top_score,omitempty"`
	ProvenanceHash string    `gorm:"index:idx_provenance_hash" json:"provenance_hash,omitempty"`
	ResultJSON     string    `gorm:"type:text" json:"-"`
	Error          string    `json:"error,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `gorm:"index:idx_created_at" json:"created_at"`
}

// SetResult stores res and its summary columns.
func (r *Recognition) SetResult(res models.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	r.ResultJSON = string(data)
	r.MatchCount = len(res.Matches)
	if len(res.Matches) > 0 {
		top := res.Matches[0]
		r.TopTitle, r.TopArtist, r.TopScore = top.Title, top.Artist, top.Score
	}
	if res.Provenance != nil {
		r.ProvenanceHash = res.Provenance.ContentHash
	}
	return nil
}

// Result decodes the stored result.
func (r *Recognition) Result() (models.Result, error) {
	var res models.Result
	if r.ResultJSON == "" {
		return res, nil
	}
	if err := json.Unmarshal([]byte(r.ResultJSON), &res); err != nil {
		return res, fmt.Errorf("decoding result: %w", err)
	}
	return res, nil
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("ACOUSTIC_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if err := utils.EnsureParentDir(dbPath); err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// one writer: the pipeline records outcomes from a single goroutine
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Recognition{}); err != nil {
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

// SaveRecognition inserts rec, assigning an ID when it has none.
func (c *DBClient) SaveRecognition(rec *Recognition) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if rec.ID == "" {
		rec.ID = utils.GenerateUUID()
	}
	if err := c.DB.Create(rec).Error; err != nil {
		return fmt.Errorf("saving recognition: %w", err)
	}
	return nil
}

// ListRecognitions returns the newest recognitions first. limit <= 0 means all.
func (c *DBClient) ListRecognitions(limit int) ([]Recognition, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var recs []Recognition
	q := c.DB.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recognitions: %w", err)
	}
	return recs, nil
}

func (c *DBClient) GetRecognition(id string) (*Recognition, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var rec Recognition
	if err := c.DB.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting recognition: %w", err)
	}
	return &rec, nil
}

// FindByProvenanceHash returns recognitions whose provenance matched hash.
func (c *DBClient) FindByProvenanceHash(hash string) ([]Recognition, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	var recs []Recognition
	if err := c.DB.Where("provenance_hash = ?", hash).Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("querying by provenance hash: %w", err)
	}
	return recs, nil
}

func (c *DBClient) DeleteRecognition(id string) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	res := c.DB.Where("id = ?", id).Delete(&Recognition{})
	if res.Error != nil {
		return fmt.Errorf("deleting recognition: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *DBClient) CountRecognitions() (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}
	var n int64
	if err := c.DB.Model(&Recognition{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting recognitions: %w", err)
	}
	return n, nil
}
