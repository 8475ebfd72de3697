package acousticlink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/himanishpuri/acousticlink/internal/capture"
	"github.com/himanishpuri/acousticlink/internal/channel"
	"github.com/himanishpuri/acousticlink/internal/pipeline"
	"github.com/himanishpuri/acousticlink/internal/protocol"
	"github.com/himanishpuri/acousticlink/internal/storage"
	"github.com/himanishpuri/acousticlink/pkg/logger"
)

// ErrHistoryDisabled is returned by history calls when no store is configured.
var ErrHistoryDisabled = errors.New("history is disabled")

var (
	ErrNotFound     = storage.ErrNotFound
	ErrBusy         = pipeline.ErrBusy
	ErrNotCapturing = pipeline.ErrNotCapturing
	ErrNoDevice     = pipeline.ErrNoDevice
	ErrClosed       = pipeline.ErrClosed
	ErrInvalidInput = protocol.ErrInvalidInput
)

// client is the default implementation of the Client interface.
type client struct {
	ctrl        *pipeline.Controller
	ch          channel.Channel
	ownsChannel bool
	history     HistoryStore
	ownsHistory bool
	log         Logger
	observe     func(Snapshot)

	mu   sync.Mutex
	wake chan struct{}
}

// NewClient connects to the recognition service and starts a controller.
func NewClient(ctx context.Context, opts ...Option) (Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	c := &client{
		log:     cfg.Logger,
		observe: cfg.Observe,
		wake:    make(chan struct{}),
	}

	c.ch = cfg.Channel
	if c.ch == nil {
		ws, err := channel.Dial(ctx, channel.WebSocketConfig{URL: cfg.ServiceURL, Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to recognition service: %w", err)
		}
		c.ch, c.ownsChannel = ws, true
	}

	c.history = cfg.History
	if c.history == nil && cfg.DBPath != "" {
		h, err := NewSQLiteHistory(cfg.DBPath)
		if err != nil {
			c.closeChannel()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		c.history, c.ownsHistory = h, true
	}

	device := cfg.Device
	if device == nil {
		ff := capture.NewFFmpegDevice()
		ff.InputFormat = cfg.InputFormat
		device = ff
	}

	constraints := capture.DefaultConstraints()
	if cfg.SampleRate > 0 {
		constraints.SampleRate = cfg.SampleRate
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(cfg.Logger),
		pipeline.WithDevice(device),
		pipeline.WithCaptureOptions(
			capture.WithDuration(cfg.CaptureDuration),
			capture.WithTempDir(cfg.TempDir),
			capture.WithConstraints(constraints),
		),
		pipeline.WithResponseTimeout(cfg.ResponseTimeout),
		pipeline.WithResetDelay(cfg.ResetDelay),
		pipeline.WithObserver(c.onSnapshot),
	}
	if cfg.Notify != nil {
		popts = append(popts, pipeline.WithNotifier(cfg.Notify))
	}
	if c.history != nil {
		popts = append(popts, pipeline.WithHistory(c.history))
	}
	c.ctrl = pipeline.New(c.ch, popts...)
	return c, nil
}

func (c *client) onSnapshot(s Snapshot) {
	c.mu.Lock()
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()

	if c.observe != nil {
		c.observe(s)
	}
}

func (c *client) Listen(ctx context.Context, source Source) error {
	return c.ctrl.StartCapture(ctx, source)
}

func (c *client) StopListening(ctx context.Context) error {
	return c.ctrl.StopCapture(ctx)
}

func (c *client) IdentifyURL(ctx context.Context, url string) error {
	return c.ctrl.SubmitURL(ctx, url)
}

func (c *client) Reset(ctx context.Context) error {
	return c.ctrl.Reset(ctx)
}

func (c *client) State() Snapshot {
	return c.ctrl.Snapshot()
}

// WaitFor blocks until done accepts the current snapshot or ctx ends.
func (c *client) WaitFor(ctx context.Context, done func(Snapshot) bool) (Snapshot, error) {
	for {
		c.mu.Lock()
		wake := c.wake
		c.mu.Unlock()

		snap := c.ctrl.Snapshot()
		if done(snap) {
			return snap, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

func (c *client) History(limit int) ([]HistoryEntry, error) {
	if c.history == nil {
		return nil, ErrHistoryDisabled
	}
	return c.history.List(limit)
}

func (c *client) HistoryEntry(id string) (*HistoryEntry, error) {
	if c.history == nil {
		return nil, ErrHistoryDisabled
	}
	return c.history.Get(id)
}

func (c *client) DeleteHistory(id string) error {
	if c.history == nil {
		return ErrHistoryDisabled
	}
	return c.history.Delete(id)
}

// Close stops the controller, then releases what NewClient opened.
func (c *client) Close() error {
	var errs []error
	if err := c.ctrl.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.closeChannel(); err != nil {
		errs = append(errs, err)
	}
	if c.ownsHistory {
		if err := c.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *client) closeChannel() error {
	if !c.ownsChannel {
		return nil
	}
	return c.ch.Close()
}
