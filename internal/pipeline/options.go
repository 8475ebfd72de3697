package pipeline

import (
	"context"
	"time"

	"github.com/himanishpuri/acousticlink/internal/capture"
	"github.com/himanishpuri/acousticlink/pkg/logger"
	"github.com/himanishpuri/acousticlink/pkg/models"
)

const (
	DefaultResponseTimeout = 5 * time.Minute
	DefaultResetDelay      = 3 * time.Second
	MaxCaptureMatches      = 5
)

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Record is one finished request handed to the history recorder.
type Record struct {
	RequestID string
	Path      Path
	Reference string
	Kind      models.TrackKind
	State     State
	Result    models.Result
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// HistoryRecorder persists finished requests.
type HistoryRecorder interface {
	Record(ctx context.Context, rec Record) error
}

type Config struct {
	Logger          Logger
	Device          capture.Device
	CaptureOptions  []capture.Option
	ResponseTimeout time.Duration // 0 disables the timeout
	ResetDelay      time.Duration
	Notify          func(models.Notification)
	Observe         func(Snapshot)
	History         HistoryRecorder
}

type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Logger:          logger.GetLogger().Named("pipeline"),
		ResponseTimeout: DefaultResponseTimeout,
		ResetDelay:      DefaultResetDelay,
	}
}

func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithDevice enables the capture path.
func WithDevice(d capture.Device) Option {
	return func(c *Config) { c.Device = d }
}

// WithCaptureOptions configures every capture session the controller starts.
func WithCaptureOptions(opts ...capture.Option) Option {
	return func(c *Config) { c.CaptureOptions = append(c.CaptureOptions, opts...) }
}

// WithResponseTimeout bounds the wait for each inbound event after a
// command. Zero waits forever.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) { c.ResponseTimeout = d }
}

// WithResetDelay is how long Error (and a finished capture) is shown before
// the controller returns to Idle.
func WithResetDelay(d time.Duration) Option {
	return func(c *Config) { c.ResetDelay = d }
}

// WithNotifier receives user-visible notifications. It runs on the event
// loop and must not block.
func WithNotifier(fn func(models.Notification)) Option {
	return func(c *Config) { c.Notify = fn }
}

// WithObserver receives a snapshot after every change. It runs on the event
// loop and must not block.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Config) { c.Observe = fn }
}

func WithHistory(h HistoryRecorder) Option {
	return func(c *Config) { c.History = h }
}
