package acousticlink

import (
	"time"

	"github.com/himanishpuri/acousticlink/internal/capture"
	"github.com/himanishpuri/acousticlink/internal/channel"
)

type Config struct {
	ServiceURL      string
	DBPath          string // empty disables history
	TempDir         string
	CaptureDuration time.Duration
	SampleRate      int
	InputFormat     string
	ResponseTimeout time.Duration
	ResetDelay      time.Duration
	Logger          Logger
	Channel         channel.Channel
	Device          capture.Device
	History         HistoryStore
	Notify          func(Notification)
	Observe         func(Snapshot)
}

type Option func(*Config)

func WithServiceURL(url string) Option {
	return func(c *Config) {
		c.ServiceURL = url
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithCaptureDuration(d time.Duration) Option {
	return func(c *Config) {
		c.CaptureDuration = d
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithInputFormat sets the ffmpeg input format used for capture (pulse, alsa, avfoundation...).
func WithInputFormat(format string) Option {
	return func(c *Config) {
		c.InputFormat = format
	}
}

func WithResponseTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ResponseTimeout = d
	}
}

func WithResetDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ResetDelay = d
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithChannel uses ch instead of dialing ServiceURL. The caller keeps ownership of ch.
func WithChannel(ch channel.Channel) Option {
	return func(c *Config) {
		c.Channel = ch
	}
}

func WithDevice(d capture.Device) Option {
	return func(c *Config) {
		c.Device = d
	}
}

func WithHistory(h HistoryStore) Option {
	return func(c *Config) {
		c.History = h
	}
}

func WithNotifier(fn func(Notification)) Option {
	return func(c *Config) {
		c.Notify = fn
	}
}

func WithObserver(fn func(Snapshot)) Option {
	return func(c *Config) {
		c.Observe = fn
	}
}

func defaultConfig() *Config {
	return &Config{
		ServiceURL:      "ws://localhost:8080/socket",
		DBPath:          "acousticlink.sqlite3",
		TempDir:         "/tmp",
		CaptureDuration: capture.DefaultDuration,
		SampleRate:      44100,
		InputFormat:     "pulse",
		ResponseTimeout: 5 * time.Minute,
		ResetDelay:      3 * time.Second,
	}
}
