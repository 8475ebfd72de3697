package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/himanishpuri/acousticlink/internal/acquisition"
	"github.com/himanishpuri/acousticlink/internal/capture"
	"github.com/himanishpuri/acousticlink/internal/channel"
	"github.com/himanishpuri/acousticlink/internal/metrics"
	"github.com/himanishpuri/acousticlink/internal/protocol"
	"github.com/himanishpuri/acousticlink/pkg/models"
	"github.com/himanishpuri/acousticlink/pkg/utils"
)

// Controller runs every reaction on one goroutine. User calls, timers and
// channel events are posted to its inbox and handled to completion in order.
type Controller struct {
	ch  channel.Channel
	cfg Config
	log Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// owned by the loop goroutine
	state      State
	path       Path
	requestID  string
	reference  string
	kind       models.TrackKind
	job        *acquisition.Job
	session    *capture.Session
	stopCap    context.CancelFunc
	result     models.Result
	err        error
	startedAt  time.Time
	recorded   bool
	epoch      uint64
	respGen    uint64
	respTimer  *time.Timer
	resetTimer *time.Timer
	subscribed []string
}

// New starts a controller on ch. The caller keeps ownership of ch and closes
// it after Close.
func New(ch channel.Channel, opts ...Option) *Controller {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultConfig().Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		ch:     ch,
		cfg:    cfg,
		log:    cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		inbox:  make(chan func(), 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	c.snap = Snapshot{State: StateIdle, UpdatedAt: time.Now()}
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

// post queues fn on the loop. It reports false once the controller is closed.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// do runs fn on the loop and waits for its error.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !c.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Close stops the loop, releases an active capture and records the current
// request if it finished. It does not close the channel.
func (c *Controller) Close() error {
	c.once.Do(func() {
		close(c.quit)
		<-c.done
		c.cancel()
	})
	return nil
}

func (c *Controller) shutdown() {
	c.releaseCapture()
	c.stopTimers()
	if c.state.Terminal() {
		c.finalize()
	}
	c.unsubscribeAll()
}

// Snapshot returns the latest published view. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// StartCapture begins recording from source. The query is sent when the
// capture window elapses.
func (c *Controller) StartCapture(ctx context.Context, source capture.Source) error {
	return c.do(ctx, func() error {
		if c.cfg.Device == nil {
			return ErrNoDevice
		}
		if c.state != StateIdle {
			return ErrBusy
		}

		c.begin(PathCapture, string(source))
		c.unsubscribeAll()
		epoch := c.epoch

		opts := append([]capture.Option{capture.WithLogger(c.log)}, c.cfg.CaptureOptions...)
		opts = append(opts, capture.WithStageHook(func(st capture.Stage) {
			c.post(func() { c.onCaptureStage(epoch, st) })
		}))
		session := capture.NewSession(c.cfg.Device, opts...)
		capCtx, cancel := context.WithCancel(c.ctx)
		c.session, c.stopCap = session, cancel
		c.setState(StateCapturing)

		go func() {
			defer cancel()
			query, err := session.Capture(capCtx, source)
			c.post(func() { c.onCaptureDone(epoch, query, err) })
		}()
		return nil
	})
}

// StopCapture cancels the running capture without sending anything and
// returns to Idle. It is a no-op when idle.
func (c *Controller) StopCapture(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.state == StateIdle {
			return nil
		}
		if c.path != PathCapture || (c.state != StateCapturing && c.state != StateEncoding) {
			return ErrNotCapturing
		}
		c.log.Infof("capture %s stopped by user", c.requestID)
		c.reset()
		return nil
	})
}

// SubmitURL starts a track acquisition. Invalid references fail with
// acquisition.ErrInvalidReference and send nothing.
func (c *Controller) SubmitURL(ctx context.Context, rawURL string) error {
	return c.do(ctx, func() error {
		if c.state != StateIdle {
			return ErrBusy
		}
		if _, err := utils.ParseTrackURL(rawURL); err != nil {
			err = fmt.Errorf("%w: %v", acquisition.ErrInvalidReference, err)
			c.notify(models.LevelError, userMessage(err))
			return err
		}

		job := acquisition.New(c.sendProcessURL)
		c.begin(PathTrack, rawURL)
		c.job = job
		c.setState(StateSubmitting)
		c.subscribe(protocol.TrackEvents)

		if err := job.Submit(c.ctx, rawURL); err != nil {
			c.fail(err)
			return err
		}

		ref := job.Reference()
		c.requestID = job.RequestID()
		c.reference = ref.URL
		c.kind = ref.Kind
		c.log.Infof("request %s: %s %s submitted", c.requestID, ref.Kind, ref.ID)
		c.setState(StateCacheCheck)
		c.armResponse()
		return nil
	})
}

// Reset clears a finished request and returns to Idle. Resetting an active
// request is refused: there is no way to abort it remotely.
func (c *Controller) Reset(ctx context.Context) error {
	return c.do(ctx, func() error {
		switch {
		case c.state == StateIdle:
			return nil
		case c.state.Terminal():
			c.reset()
			return nil
		default:
			return ErrBusy
		}
	})
}

func (c *Controller) begin(path Path, reference string) {
	c.epoch++
	c.path = path
	c.reference = reference
	c.kind = ""
	c.requestID = utils.GenerateUUID()
	c.result = models.Result{}
	c.err = nil
	c.recorded = false
	c.startedAt = time.Now()
}

// reset tears the current request down and returns to Idle.
func (c *Controller) reset() {
	if c.state.Terminal() {
		c.finalize()
	}
	c.releaseCapture()
	c.stopTimers()
	c.unsubscribeAll()
	c.epoch++
	c.path = PathNone
	c.requestID = ""
	c.reference = ""
	c.kind = ""
	c.job = nil
	c.result = models.Result{}
	c.err = nil
	c.startedAt = time.Time{}
	c.setState(StateIdle)
}

// releaseCapture stops a running session. Cancelling its context covers a
// session that has not reached Capture yet.
func (c *Controller) releaseCapture() {
	if c.session != nil {
		c.session.Stop()
		c.session = nil
	}
	if c.stopCap != nil {
		c.stopCap()
		c.stopCap = nil
	}
}

// subscribe replaces the subscriber table with events.
func (c *Controller) subscribe(events []string) {
	c.unsubscribeAll()
	for _, name := range events {
		name := name
		c.ch.Subscribe(name, func(msg channel.Message) { c.inbound(name, msg) })
	}
	c.subscribed = append([]string(nil), events...)
}

func (c *Controller) unsubscribeAll() {
	for _, name := range c.subscribed {
		c.ch.Unsubscribe(name)
	}
	c.subscribed = nil
}

func (c *Controller) sendProcessURL(ctx context.Context, requestID string, cmd protocol.ProcessURL) error {
	if err := c.send(ctx, protocol.EventProcessURL, requestID, cmd); err != nil {
		return err
	}
	metrics.CountCommand(protocol.EventProcessURL, string(cmd.Command))
	return nil
}

func (c *Controller) send(ctx context.Context, event, requestID string, payload any) error {
	msg, err := channel.NewMessage(event, requestID, payload)
	if err != nil {
		return err
	}
	if err := c.ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

func (c *Controller) setState(s State) {
	if c.state != s {
		c.log.Debugf("state %s -> %s", c.state, s)
	}
	c.state = s
	c.publish()
}

func (c *Controller) publish() {
	snap := Snapshot{
		State:     c.state,
		Path:      c.path,
		RequestID: c.requestID,
		Reference: c.reference,
		StartedAt: c.startedAt,
		UpdatedAt: time.Now(),
	}
	res := c.result.Clone()
	snap.Matches = res.Matches
	if c.path == PathCapture && len(snap.Matches) > MaxCaptureMatches {
		snap.Matches = snap.Matches[:MaxCaptureMatches]
	}
	snap.Provenance = res.Provenance
	snap.NoMatch = c.state == StateComplete && res.NoMatch()
	if c.err != nil {
		snap.Error = userMessage(c.err)
		snap.ErrorKind = protocol.ErrorKind(c.err)
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	if c.cfg.Observe != nil {
		c.cfg.Observe(snap)
	}
}

func (c *Controller) notify(level models.Level, msg string) {
	if msg == "" {
		return
	}
	c.log.Debugf("notify %s: %s", level, msg)
	if c.cfg.Notify != nil {
		c.cfg.Notify(models.Notification{Level: level, Message: msg})
	}
}

// armResponse (re)starts the inactivity timeout for the current request.
func (c *Controller) armResponse() {
	c.stopResponse()
	if c.cfg.ResponseTimeout <= 0 {
		return
	}
	c.respGen++
	gen, timeout := c.respGen, c.cfg.ResponseTimeout
	c.respTimer = time.AfterFunc(timeout, func() {
		c.post(func() {
			if gen != c.respGen || !c.state.Active() {
				return
			}
			c.fail(fmt.Errorf("%w: nothing received for %s while %s", protocol.ErrResponseTimeout, timeout, c.state))
		})
	})
}

func (c *Controller) stopResponse() {
	c.respGen++
	if c.respTimer != nil {
		c.respTimer.Stop()
		c.respTimer = nil
	}
}

// scheduleReset returns to Idle after the reset delay unless something else
// reset first.
func (c *Controller) scheduleReset() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	epoch := c.epoch
	c.resetTimer = time.AfterFunc(c.cfg.ResetDelay, func() {
		c.post(func() {
			if epoch == c.epoch && c.state.Terminal() {
				c.reset()
			}
		})
	})
}

func (c *Controller) stopTimers() {
	c.stopResponse()
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

// complete enters Complete. The outcome metric is counted on the first entry.
func (c *Controller) complete() {
	if c.state == StateComplete {
		c.publish()
		return
	}
	c.stopResponse()
	c.setState(StateComplete)

	outcome := "match"
	if c.result.NoMatch() {
		outcome = "no_match"
	}
	metrics.ObserveOutcome(string(c.path), outcome, time.Since(c.startedAt))
	c.log.Infof("request %s complete: %d matches, provenance=%t", c.requestID, len(c.result.Matches), c.result.Provenance != nil)
}

// fail enters Error, tells the user and schedules the return to Idle.
func (c *Controller) fail(err error) {
	if c.state.Terminal() || c.state == StateIdle {
		return
	}
	c.err = err
	c.releaseCapture()
	if c.job != nil {
		c.job.Abort(err)
	}
	c.stopResponse()
	c.unsubscribeAll()
	c.setState(StateError)

	c.log.Errorf("request %s failed: %v", c.requestID, err)
	c.notify(models.LevelError, userMessage(err))
	metrics.ObserveOutcome(string(c.path), protocol.ErrorKind(err), time.Since(c.startedAt))
	c.scheduleReset()
}

// finalize records the finished request once.
func (c *Controller) finalize() {
	if c.recorded || c.cfg.History == nil || !c.state.Terminal() {
		return
	}
	c.recorded = true
	rec := Record{
		RequestID: c.requestID,
		Path:      c.path,
		Reference: c.reference,
		Kind:      c.kind,
		State:     c.state,
		Result:    c.result.Clone(),
		Err:       c.err,
		StartedAt: c.startedAt,
		EndedAt:   time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cfg.History.Record(ctx, rec); err != nil {
		c.log.Warnf("recording history for %s: %v", c.requestID, err)
	}
}

// userMessage is the notification text for err.
func userMessage(err error) string {
	switch {
	case errors.Is(err, acquisition.ErrInvalidReference):
		return "Invalid Spotify URL: expected a track, album or playlist link"
	case errors.Is(err, protocol.ErrDeviceUnavailable):
		return "Could not access the audio device. Check the permission and try again."
	case errors.Is(err, protocol.ErrEncodeFailure):
		return "Could not encode the recording"
	case errors.Is(err, protocol.ErrResponseTimeout):
		return "The recognition service did not respond in time"
	case errors.Is(err, protocol.ErrProtocolParse):
		return "Received a malformed response from the recognition service"
	default:
		var remote *acquisition.RemoteError
		if errors.As(err, &remote) {
			return remote.Message
		}
		return err.Error()
	}
}
