package acousticlink

import (
	"context"

	"github.com/himanishpuri/acousticlink/internal/pipeline"
)

type Client interface {
	Listen(ctx context.Context, source Source) error
	StopListening(ctx context.Context) error
	IdentifyURL(ctx context.Context, url string) error
	Reset(ctx context.Context) error
	State() Snapshot
	WaitFor(ctx context.Context, done func(Snapshot) bool) (Snapshot, error)
	History(limit int) ([]HistoryEntry, error)
	HistoryEntry(id string) (*HistoryEntry, error)
	DeleteHistory(id string) error
	Close() error
}

// HistoryStore persists finished recognitions.
type HistoryStore interface {
	pipeline.HistoryRecorder
	List(limit int) ([]HistoryEntry, error)
	Get(id string) (*HistoryEntry, error)
	Delete(id string) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
