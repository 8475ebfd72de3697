// Package capturetest provides an in-memory capture.Device for tests.
package capturetest

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/acousticlink/internal/capture"
)

// Device grants in-memory streams. Set Err to make Open fail the way a
// refused permission prompt does.
type Device struct {
	Err        error
	Settings   capture.Settings
	PCM        []byte // delivered as the first chunk of every stream
	VideoTrack bool

	mu      sync.Mutex
	streams []*Stream
	opens   atomic.Int32
}

// NewDevice returns a device that streams 8 kHz mono 16-bit audio holding
// pcmDuration of tone.
func NewDevice(pcmDuration time.Duration) *Device {
	return &Device{
		Settings: capture.Settings{SampleRate: 8000, Channels: 1, SampleSize: 16},
		PCM:      Tone(8000, pcmDuration),
	}
}

func (d *Device) Open(ctx context.Context, source capture.Source, c capture.Constraints) (capture.Stream, error) {
	d.opens.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Err != nil {
		return nil, d.Err
	}

	s := &Stream{
		settings: d.Settings,
		chunks:   make(chan []byte, 16),
		ended:    make(chan struct{}),
		tracks:   []*Track{{kind: capture.TrackAudio}},
	}
	if d.VideoTrack {
		s.tracks = append(s.tracks, &Track{kind: capture.TrackVideo})
	}
	if len(d.PCM) > 0 {
		s.chunks <- d.PCM
	}

	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s, nil
}

// Opens counts Open calls, including refused ones.
func (d *Device) Opens() int { return int(d.opens.Load()) }

// Streams returns every stream granted so far.
func (d *Device) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

type Stream struct {
	settings capture.Settings
	chunks   chan []byte
	ended    chan struct{}
	endOnce  sync.Once
	closed   atomic.Bool
	tracks   []*Track
}

func (s *Stream) Settings() capture.Settings { return s.settings }
func (s *Stream) Chunks() <-chan []byte      { return s.chunks }
func (s *Stream) Ended() <-chan struct{}     { return s.ended }

func (s *Stream) Tracks() []capture.Track {
	out := make([]capture.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

// Push delivers more PCM without blocking; it is dropped if the buffer is full.
func (s *Stream) Push(pcm []byte) {
	select {
	case s.chunks <- pcm:
	default:
	}
}

// End simulates the platform revoking the source.
func (s *Stream) End() { s.endOnce.Do(func() { close(s.ended) }) }

func (s *Stream) Closed() bool { return s.closed.Load() }

// VideoStopped reports whether every granted video track was stopped.
func (s *Stream) VideoStopped() bool {
	for _, t := range s.tracks {
		if t.kind == capture.TrackVideo && !t.stopped.Load() {
			return false
		}
	}
	return true
}

type Track struct {
	kind    capture.TrackKind
	stopped atomic.Bool
}

func (t *Track) Kind() capture.TrackKind { return t.kind }
func (t *Track) Stop()                   { t.stopped.Store(true) }

// Tone returns d of a square wave as mono little-endian 16-bit PCM.
func Tone(sampleRate int, d time.Duration) []byte {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(8000)
		if (i/20)%2 == 1 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
