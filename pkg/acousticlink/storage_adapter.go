package acousticlink

import (
	"context"
	"time"

	"github.com/himanishpuri/acousticlink/internal/pipeline"
	"github.com/himanishpuri/acousticlink/internal/protocol"
	"github.com/himanishpuri/acousticlink/internal/storage"
)

// storageAdapter adapts storage.DBClient to the HistoryStore interface.
type storageAdapter struct {
	db *storage.DBClient
}

// NewSQLiteHistory opens (or creates) the history database at dbPath.
func NewSQLiteHistory(dbPath string) (HistoryStore, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return &storageAdapter{db: db}, nil
}

func outcomeOf(rec pipeline.Record) string {
	switch {
	case rec.Err != nil:
		return protocol.ErrorKind(rec.Err)
	case rec.Result.NoMatch():
		return "no_match"
	default:
		return "match"
	}
}

func (s *storageAdapter) Record(ctx context.Context, rec pipeline.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := &storage.Recognition{
		RequestID:  rec.RequestID,
		Path:       string(rec.Path),
		Reference:  rec.Reference,
		Kind:       string(rec.Kind),
		State:      string(rec.State),
		Outcome:    outcomeOf(rec),
		DurationMs: rec.EndedAt.Sub(rec.StartedAt).Milliseconds(),
		CreatedAt:  rec.EndedAt,
	}
	if rec.Err != nil {
		row.Error = rec.Err.Error()
	}
	if err := row.SetResult(rec.Result); err != nil {
		return err
	}
	return s.db.SaveRecognition(row)
}

func toEntry(row *storage.Recognition) (*HistoryEntry, error) {
	res, err := row.Result()
	if err != nil {
		return nil, err
	}
	return &HistoryEntry{
		ID:         row.ID,
		RequestID:  row.RequestID,
		Path:       row.Path,
		Reference:  row.Reference,
		Kind:       row.Kind,
		State:      row.State,
		Outcome:    row.Outcome,
		Matches:    res.Matches,
		Provenance: res.Provenance,
		Error:      row.Error,
		Duration:   time.Duration(row.DurationMs) * time.Millisecond,
		CreatedAt:  row.CreatedAt,
	}, nil
}

func (s *storageAdapter) List(limit int) ([]HistoryEntry, error) {
	rows, err := s.db.ListRecognitions(limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for i := range rows {
		e, err := toEntry(&rows[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func (s *storageAdapter) Get(id string) (*HistoryEntry, error) {
	row, err := s.db.GetRecognition(id)
	if err != nil {
		return nil, err
	}
	return toEntry(row)
}

func (s *storageAdapter) Delete(id string) error {
	return s.db.DeleteRecognition(id)
}

func (s *storageAdapter) Close() error {
	return s.db.Close()
}
