package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/himanishpuri/acousticlink/internal/audio"
	"github.com/himanishpuri/acousticlink/internal/protocol"
	"github.com/himanishpuri/acousticlink/pkg/logger"
	"github.com/himanishpuri/acousticlink/pkg/utils"
)

// DefaultDuration is the fixed capture window.
const DefaultDuration = 20 * time.Second

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

type Config struct {
	Duration    time.Duration
	TempDir     string
	Constraints Constraints
	Logger      Logger
	OnStage     func(Stage)
}

type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Duration:    DefaultDuration,
		TempDir:     os.TempDir(),
		Constraints: DefaultConstraints(),
		Logger:      logger.GetLogger().Named("capture"),
	}
}

func WithDuration(d time.Duration) Option {
	return func(c *Config) { c.Duration = d }
}

func WithTempDir(dir string) Option {
	return func(c *Config) { c.TempDir = dir }
}

func WithConstraints(cons Constraints) Option {
	return func(c *Config) { c.Constraints = cons }
}

func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithStageHook registers fn to be called as the capture moves between stages.
func WithStageHook(fn func(Stage)) Option {
	return func(c *Config) { c.OnStage = fn }
}

// Session owns at most one live stream at a time.
type Session struct {
	device Device
	cfg    Config

	mu     sync.Mutex
	active bool
	stop   chan struct{}
}

func NewSession(device Device, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	return &Session{device: device, cfg: cfg}
}

// Active reports whether a capture is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop cancels the running capture. No query is emitted for a stopped
// capture. Calling Stop on an idle session does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Capture records one window from source and returns the encoded query.
// It returns ErrStopped (or ErrTrackEnded) when cut short, and wraps
// protocol.ErrDeviceUnavailable or protocol.ErrEncodeFailure on failure.
// The stream is released before Capture returns.
func (s *Session) Capture(ctx context.Context, source Source) (*protocol.AudioQuery, error) {
	stop, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	stream, err := s.device.Open(ctx, source, s.cfg.Constraints)
	if err != nil {
		if errors.Is(err, protocol.ErrDeviceUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", protocol.ErrDeviceUnavailable, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			s.cfg.Logger.Warnf("releasing stream: %v", err)
		}
	}()

	for _, track := range stream.Tracks() {
		if track.Kind() == TrackVideo {
			track.Stop()
		}
	}

	settings := s.settings(stream)
	s.cfg.Logger.Infof("capturing %s from %s (%d Hz, %d ch)", s.cfg.Duration, source, settings.SampleRate, settings.Channels)
	s.stage(StageRecording)

	pcm, err := s.record(ctx, stream, stop)
	if err != nil {
		return nil, err
	}

	s.stage(StageEncoding)
	query, err := s.encode(pcm, settings)
	if err != nil {
		return nil, err
	}

	if stopped(stop) {
		return nil, ErrStopped
	}
	return query, nil
}

func (s *Session) begin() (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, ErrSessionBusy
	}
	s.active = true
	s.stop = make(chan struct{})
	return s.stop, nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.stop = nil
}

func (s *Session) stage(st Stage) {
	if s.cfg.OnStage != nil {
		s.cfg.OnStage(st)
	}
}

// settings prefers what the stream reports and falls back to the constraints.
func (s *Session) settings(stream Stream) Settings {
	set := stream.Settings()
	if set.SampleRate <= 0 {
		set.SampleRate = s.cfg.Constraints.SampleRate
	}
	if set.Channels <= 0 {
		set.Channels = s.cfg.Constraints.Channels
	}
	if set.SampleSize <= 0 {
		set.SampleSize = s.cfg.Constraints.SampleSize
	}
	return set
}

func (s *Session) record(ctx context.Context, stream Stream, stop <-chan struct{}) ([]byte, error) {
	timer := time.NewTimer(s.cfg.Duration)
	defer timer.Stop()

	var pcm []byte
	chunks := stream.Chunks()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			pcm = append(pcm, chunk...)
		case <-timer.C:
			return append(pcm, drain(chunks)...), nil
		case <-stop:
			s.cfg.Logger.Infof("capture stopped")
			return nil, ErrStopped
		case <-stream.Ended():
			s.cfg.Logger.Warnf("capture source ended")
			return nil, ErrTrackEnded
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// drain collects chunks that were already buffered when the window closed.
func drain(chunks <-chan []byte) []byte {
	var out []byte
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, chunk...)
		default:
			return out
		}
	}
}

// encode wraps pcm in a WAV file, decodes it back for the authoritative
// duration and builds the query.
func (s *Session) encode(pcm []byte, set Settings) (*protocol.AudioQuery, error) {
	f, err := utils.CreateTempFile(s.cfg.TempDir, "capture-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrEncodeFailure, err)
	}
	path := f.Name()
	defer utils.DeleteFile(path)

	if err := audio.EncodePCM16(f, pcm, set.SampleRate, set.Channels); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", protocol.ErrEncodeFailure, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrEncodeFailure, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrEncodeFailure, err)
	}
	info, err := audio.Probe(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding capture: %v", protocol.ErrEncodeFailure, err)
	}
	s.cfg.Logger.Debugf("encoded capture: %s", info)

	return &protocol.AudioQuery{
		Audio:      base64.StdEncoding.EncodeToString(data),
		Duration:   info.Duration.Seconds(),
		Channels:   set.Channels,
		SampleRate: set.SampleRate,
		SampleSize: set.SampleSize,
	}, nil
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
