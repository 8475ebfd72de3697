// Package pipeline is the identification state machine. It owns one capture
// or track acquisition at a time, interprets channel events and exposes the
// current stage and result to the presentation layer.
package pipeline

import (
	"errors"
	"time"

	"github.com/himanishpuri/acousticlink/pkg/models"
)

var (
	ErrBusy         = errors.New("a recognition is already in progress")
	ErrNotCapturing = errors.New("no capture in progress")
	ErrNoDevice     = errors.New("no capture device configured")
	ErrClosed       = errors.New("controller closed")
)

type State string

const (
	StateIdle           State = "idle"
	StateCapturing      State = "capturing"
	StateEncoding       State = "encoding"
	StateAwaitingMatch  State = "awaiting_match"
	StateSubmitting     State = "submitting"
	StateCacheCheck     State = "cache_check"
	StateDownloading    State = "downloading"
	StateConverting     State = "converting"
	StateFingerprinting State = "fingerprinting"
	StateComplete       State = "complete"
	StateError          State = "error"
)

func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Active reports whether a request is in flight.
func (s State) Active() bool {
	return s != StateIdle && !s.Terminal()
}

type Path string

const (
	PathNone    Path = ""
	PathCapture Path = "capture"
	PathTrack   Path = "track"
)

// Snapshot is a read-only view of the controller. Matches holds the rendered
// set: at most MaxCaptureMatches for the capture path, everything for tracks.
type Snapshot struct {
	State      State                    `json:"state"`
	Path       Path                     `json:"path,omitempty"`
	RequestID  string                   `json:"requestId,omitempty"`
	Reference  string                   `json:"reference,omitempty"`
	Matches    []models.MatchResult     `json:"matches,omitempty"`
	Provenance *models.ProvenanceRecord `json:"provenance,omitempty"`
	NoMatch    bool                     `json:"noMatch,omitempty"`
	Error      string                   `json:"error,omitempty"`
	ErrorKind  string                   `json:"errorKind,omitempty"`
	StartedAt  time.Time                `json:"startedAt,omitempty"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}
