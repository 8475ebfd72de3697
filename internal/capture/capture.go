// Package capture records a bounded window of live audio and turns it into
// an AudioQuery for the recognition service.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionBusy = errors.New("capture already in progress")
	ErrStopped     = errors.New("capture stopped")
	// ErrTrackEnded is returned when the source disappears mid-capture. It
	// is handled exactly like an explicit stop.
	ErrTrackEnded = fmt.Errorf("%w: source track ended", ErrStopped)
)

// Source selects what to record.
type Source string

const (
	SourceDevice     Source = "device" // system / device audio
	SourceMicrophone Source = "microphone"
)

// ParseSource accepts "device", "mic" or "microphone".
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device", "system":
		return SourceDevice, nil
	case "mic", "microphone":
		return SourceMicrophone, nil
	default:
		return "", fmt.Errorf("unknown capture source %q", s)
	}
}

// Constraints are the stream properties requested from the platform.
type Constraints struct {
	SampleRate       int
	Channels         int
	SampleSize       int
	AutoGainControl  bool
	EchoCancellation bool
	NoiseSuppression bool
	Video            bool
}

// DefaultConstraints requests an unprocessed mono 16-bit audio stream.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate: 44100,
		Channels:   1,
		SampleSize: 16,
	}
}

// Settings are the properties the live stream actually delivers.
type Settings struct {
	SampleRate int
	Channels   int
	SampleSize int
}

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type Track interface {
	Kind() TrackKind
	Stop()
}

// Stream is a live media stream. Chunks carries little-endian PCM in
// arrival order; Ended is closed when the source goes away.
type Stream interface {
	Settings() Settings
	Chunks() <-chan []byte
	Ended() <-chan struct{}
	Tracks() []Track
	Close() error
}

// Device grants media streams. Open blocks while the platform asks for
// consent and fails with protocol.ErrDeviceUnavailable when it is refused.
type Device interface {
	Open(ctx context.Context, source Source, c Constraints) (Stream, error)
}

// Stage is reported through the stage hook while a capture progresses.
type Stage string

const (
	StageRecording Stage = "recording"
	StageEncoding  Stage = "encoding"
)
