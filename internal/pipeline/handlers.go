package pipeline

import (
	"errors"

	"github.com/himanishpuri/acousticlink/internal/acquisition"
	"github.com/himanishpuri/acousticlink/internal/capture"
	"github.com/himanishpuri/acousticlink/internal/channel"
	"github.com/himanishpuri/acousticlink/internal/metrics"
	"github.com/himanishpuri/acousticlink/internal/protocol"
	"github.com/himanishpuri/acousticlink/pkg/models"
)

// inbound runs on the channel goroutine: decode once, then hand the typed
// event to the loop.
func (c *Controller) inbound(name string, msg channel.Message) {
	ev, err := protocol.Decode(name, msg.Data)
	c.post(func() { c.onEvent(name, msg.RequestID, ev, err) })
}

func (c *Controller) onEvent(name, requestID string, ev protocol.Event, decodeErr error) {
	if c.state == StateIdle {
		metrics.CountEvent(name, metrics.EventIgnored)
		return
	}
	// Services that do not echo ids are trusted to keep per-request order.
	if requestID != "" && requestID != c.requestID {
		c.log.Debugf("dropping %s for stale request %s", name, requestID)
		metrics.CountEvent(name, metrics.EventStale)
		return
	}
	if decodeErr != nil {
		metrics.CountEvent(name, metrics.EventInvalid)
		if !c.state.Active() {
			c.log.Warnf("ignoring malformed %s after %s: %v", name, c.state, decodeErr)
			return
		}
		c.fail(decodeErr)
		return
	}

	metrics.CountEvent(name, metrics.EventAccepted)
	if c.state.Active() {
		c.armResponse()
	}

	switch e := ev.(type) {
	case protocol.Matches:
		c.onMatches(e)
	case protocol.CacheStatus:
		if c.job != nil {
			c.apply(c.job.HandleCacheStatus(c.ctx, e))
		}
	case protocol.DownloadStatus:
		c.onDownloadStatus(e)
	case protocol.SimilarityResults:
		c.onTrackResult(func(r *models.Result) { r.Matches = e.Results })
	case protocol.ProvenanceMatch:
		rec := e.Record
		c.onTrackResult(func(r *models.Result) { r.Provenance = &rec })
	}
}

func (c *Controller) onMatches(e protocol.Matches) {
	if c.path != PathCapture || c.state != StateAwaitingMatch {
		return
	}
	c.result.Matches = e.Results
	c.unsubscribeAll()
	c.complete()
	if c.result.NoMatch() {
		c.notify(models.LevelInfo, "No song found.")
	}
	c.scheduleReset()
}

func (c *Controller) onDownloadStatus(e protocol.DownloadStatus) {
	if c.path != PathTrack || c.job == nil {
		return
	}
	if c.state == StateComplete {
		// trailing progress such as "Analysis complete" after the results
		return
	}
	c.apply(c.job.HandleDownloadStatus(c.ctx, e))
}

// onTrackResult merges a similarity or provenance result. Both kinds may
// arrive for one request, in either order, including after Complete.
func (c *Controller) onTrackResult(merge func(*models.Result)) {
	if c.path != PathTrack || c.job == nil || c.state == StateError {
		return
	}
	if c.state == StateSubmitting || c.state == StateCacheCheck {
		c.log.Warnf("result for %s arrived before its cache lookup finished", c.requestID)
	}
	merge(&c.result)
	c.job.Finish()
	c.complete()
}

// apply maps a job outcome onto the controller.
func (c *Controller) apply(out acquisition.Outcome) {
	if out.Ignored {
		return
	}
	if out.Sent != "" {
		c.log.Infof("request %s: sent %s", c.requestID, out.Sent)
	}
	if out.Notice != nil {
		c.notify(out.Notice.Level, out.Notice.Message)
	}
	if out.Err != nil {
		c.fail(out.Err)
		return
	}

	switch out.Stage {
	case acquisition.StageDownloading:
		c.setState(StateDownloading)
	case acquisition.StageConverting:
		c.setState(StateConverting)
	case acquisition.StageFingerprinting:
		c.setState(StateFingerprinting)
	case acquisition.StageComplete:
		c.complete()
	}
}

func (c *Controller) onCaptureStage(epoch uint64, st capture.Stage) {
	if epoch != c.epoch || c.path != PathCapture {
		return
	}
	if st == capture.StageEncoding && c.state == StateCapturing {
		c.setState(StateEncoding)
	}
}

func (c *Controller) onCaptureDone(epoch uint64, query *protocol.AudioQuery, err error) {
	if epoch != c.epoch || (c.state != StateCapturing && c.state != StateEncoding) {
		// stopped or reset while the session was winding down
		return
	}
	c.session, c.stopCap = nil, nil

	if err != nil {
		switch {
		case errors.Is(err, capture.ErrTrackEnded):
			c.log.Warnf("capture %s: source ended", c.requestID)
			c.notify(models.LevelInfo, "Audio source ended, capture stopped")
			c.reset()
		case errors.Is(err, capture.ErrStopped):
			c.reset()
		default:
			c.fail(err)
		}
		return
	}

	c.subscribe(protocol.CaptureEvents)
	if err := c.send(c.ctx, protocol.EventNewRecording, c.requestID, query); err != nil {
		c.fail(err)
		return
	}
	metrics.CountCommand(protocol.EventNewRecording, "")
	c.log.Infof("request %s: sent %.1fs recording", c.requestID, query.Duration)
	c.setState(StateAwaitingMatch)
	c.armResponse()
}
