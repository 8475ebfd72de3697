package acousticlink

import (
	"time"

	"github.com/himanishpuri/acousticlink/internal/capture"
	"github.com/himanishpuri/acousticlink/internal/pipeline"
	"github.com/himanishpuri/acousticlink/pkg/models"
)

type (
	Snapshot         = pipeline.Snapshot
	State            = pipeline.State
	Source           = capture.Source
	MatchResult      = models.MatchResult
	ProvenanceRecord = models.ProvenanceRecord
	Notification     = models.Notification
	Level            = models.Level
)

const (
	LevelInfo    = models.LevelInfo
	LevelSuccess = models.LevelSuccess
	LevelError   = models.LevelError
)

const (
	SourceMicrophone = capture.SourceMicrophone
	SourceDevice     = capture.SourceDevice
)

const (
	StateIdle           = pipeline.StateIdle
	StateCapturing      = pipeline.StateCapturing
	StateEncoding       = pipeline.StateEncoding
	StateAwaitingMatch  = pipeline.StateAwaitingMatch
	StateSubmitting     = pipeline.StateSubmitting
	StateCacheCheck     = pipeline.StateCacheCheck
	StateDownloading    = pipeline.StateDownloading
	StateConverting     = pipeline.StateConverting
	StateFingerprinting = pipeline.StateFingerprinting
	StateComplete       = pipeline.StateComplete
	StateError          = pipeline.StateError
)

// ParseSource accepts "mic", "microphone", "device" or "system".
func ParseSource(s string) (Source, error) { return capture.ParseSource(s) }

// HistoryEntry is one recorded recognition.
type HistoryEntry struct {
	ID         string            `json:"id"`
	RequestID  string            `json:"requestId"`
	Path       string            `json:"path"`
	Reference  string            `json:"reference"`
	Kind       string            `json:"kind,omitempty"`
	State      string            `json:"state"`
	Outcome    string            `json:"outcome"`
	Matches    []MatchResult     `json:"matches,omitempty"`
	Provenance *ProvenanceRecord `json:"provenance,omitempty"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
	CreatedAt  time.Time         `json:"createdAt"`
}
