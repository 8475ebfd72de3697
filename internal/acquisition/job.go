// Package acquisition drives a remote track reference through the service's
// cache lookup, download and fingerprinting commands.
package acquisition

import (
	"context"
	"errors"
	"fmt"

	"github.com/himanishpuri/acousticlink/internal/protocol"
	"github.com/himanishpuri/acousticlink/pkg/models"
	"github.com/himanishpuri/acousticlink/pkg/utils"
)

var (
	ErrInvalidReference     = fmt.Errorf("%w: invalid track reference", protocol.ErrInvalidInput)
	ErrRemoteDownloadFailed = fmt.Errorf("%w: download failed", protocol.ErrRemote)
	ErrRemoteParseFailed    = fmt.Errorf("%w: malformed service response", protocol.ErrProtocolParse)
	ErrCommandOutstanding   = errors.New("a command is already outstanding")
)

// RemoteError carries the failure message reported by the service.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return ErrRemoteDownloadFailed.Error() + ": " + e.Message
}

func (e *RemoteError) Unwrap() error { return ErrRemoteDownloadFailed }

type Stage string

const (
	StageIdle           Stage = "idle"
	StageCacheCheck     Stage = "cache_check"
	StageDownloading    Stage = "downloading"
	StageConverting     Stage = "converting"
	StageFingerprinting Stage = "fingerprinting"
	StageComplete       Stage = "complete"
	StageFailed         Stage = "failed"
)

// Terminal reports whether no further events are expected.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Sender delivers one processURL command tagged with the job's request id.
type Sender func(ctx context.Context, requestID string, cmd protocol.ProcessURL) error

// Outcome is the result of feeding one inbound event to the job.
type Outcome struct {
	Stage   Stage
	Sent    protocol.Command // command chained in response, if any
	Notice  *models.Notification
	Ignored bool
	Err     error
}

// Job is one track acquisition. It is not safe for concurrent use; the
// pipeline controller drives it from its event loop.
type Job struct {
	send Sender

	requestID   string
	ref         utils.TrackReference
	stage       Stage
	outstanding bool
	filePath    string
	cacheHit    bool
}

func New(send Sender) *Job {
	return &Job{send: send, stage: StageIdle}
}

func (j *Job) RequestID() string                { return j.requestID }
func (j *Job) Reference() utils.TrackReference { return j.ref }
func (j *Job) Stage() Stage                     { return j.stage }
func (j *Job) FilePath() string                 { return j.filePath }
func (j *Job) CacheHit() bool                   { return j.cacheHit }

// Submit validates rawURL and sends check_and_process. Nothing is sent for
// an invalid reference.
func (j *Job) Submit(ctx context.Context, rawURL string) error {
	if j.stage != StageIdle {
		return ErrCommandOutstanding
	}

	ref, err := utils.ParseTrackURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	j.ref = ref
	j.requestID = utils.GenerateUUID()

	err = j.dispatch(ctx, protocol.ProcessURL{
		URL:     ref.URL,
		Type:    ref.Kind,
		Command: protocol.CommandCheckAndProcess,
	})
	if err != nil {
		j.stage = StageFailed
		return err
	}
	j.stage = StageCacheCheck
	return nil
}

func (j *Job) dispatch(ctx context.Context, cmd protocol.ProcessURL) error {
	if j.outstanding {
		return ErrCommandOutstanding
	}
	if err := j.send(ctx, j.requestID, cmd); err != nil {
		return fmt.Errorf("sending %s: %w", cmd.Command, err)
	}
	j.outstanding = true
	return nil
}

// fingerprint answers the outstanding command by chaining find_and_save.
func (j *Job) fingerprint(ctx context.Context, path string) Outcome {
	j.outstanding = false
	j.filePath = path
	err := j.dispatch(ctx, protocol.ProcessURL{
		URL:      j.ref.URL,
		Type:     j.ref.Kind,
		Command:  protocol.CommandFindAndSave,
		FilePath: path,
	})
	if err != nil {
		return j.fail(err)
	}
	j.stage = StageFingerprinting
	return Outcome{Stage: j.stage, Sent: protocol.CommandFindAndSave}
}

func (j *Job) fail(err error) Outcome {
	j.stage = StageFailed
	j.outstanding = false
	return Outcome{Stage: j.stage, Err: err}
}

// HandleCacheStatus branches on the cache lookup: a hit goes straight to
// find_and_save, a miss sends download.
func (j *Job) HandleCacheStatus(ctx context.Context, cs protocol.CacheStatus) Outcome {
	if j.stage != StageCacheCheck {
		return Outcome{Stage: j.stage, Ignored: true}
	}

	if cs.Found {
		if cs.FilePath == "" {
			return j.fail(fmt.Errorf("%w: cache hit without a file path", ErrRemoteParseFailed))
		}
		j.cacheHit = true
		return j.fingerprint(ctx, cs.FilePath)
	}

	j.outstanding = false
	err := j.dispatch(ctx, protocol.ProcessURL{
		URL:     j.ref.URL,
		Type:    j.ref.Kind,
		Command: protocol.CommandDownload,
	})
	if err != nil {
		return j.fail(err)
	}
	j.stage = StageDownloading
	return Outcome{Stage: j.stage, Sent: protocol.CommandDownload}
}

// HandleDownloadStatus applies one progress or result report.
func (j *Job) HandleDownloadStatus(ctx context.Context, st protocol.DownloadStatus) Outcome {
	if j.stage == StageIdle || j.stage.Terminal() {
		return Outcome{Stage: j.stage, Ignored: true}
	}

	switch protocol.Classify(st) {
	case protocol.StatusInfo:
		return Outcome{Stage: j.stage, Notice: notice(models.LevelInfo, st.Message)}

	case protocol.StatusConverting:
		if j.stage == StageDownloading {
			j.stage = StageConverting
		}
		return Outcome{Stage: j.stage, Notice: notice(models.LevelInfo, st.Message)}

	case protocol.StatusTranscodeWarning:
		// The service keeps processing after this warning; results follow.
		if j.stage == StageFingerprinting {
			return Outcome{Stage: j.stage, Ignored: true}
		}
		j.stage = StageFingerprinting
		return Outcome{Stage: j.stage}

	case protocol.StatusSuccess:
		if j.stage == StageFingerprinting && j.outstanding && j.filePath == "" && st.Filename != "" {
			// download finished after a transcode warning
			out := j.fingerprint(ctx, st.Filename)
			if out.Err == nil {
				out.Notice = notice(models.LevelSuccess, st.Message)
			}
			return out
		}
		if j.stage != StageDownloading && j.stage != StageConverting {
			return Outcome{Stage: j.stage, Notice: notice(models.LevelSuccess, st.Message)}
		}
		if st.Filename == "" {
			if j.ref.Kind == models.KindTrack {
				return j.fail(fmt.Errorf("%w: download success without a filename", ErrRemoteParseFailed))
			}
			j.Finish()
			return Outcome{Stage: j.stage, Notice: notice(models.LevelSuccess, st.Message)}
		}
		out := j.fingerprint(ctx, st.Filename)
		if out.Err == nil {
			out.Notice = notice(models.LevelSuccess, st.Message)
		}
		return out

	case protocol.StatusAnalysisComplete:
		j.Finish()
		return Outcome{Stage: j.stage}

	default:
		msg := st.Message
		if msg == "" {
			msg = "unknown error"
		}
		return j.fail(&RemoteError{Message: msg})
	}
}

// Finish marks the job complete once results have arrived.
func (j *Job) Finish() {
	j.stage = StageComplete
	j.outstanding = false
}

// Abort fails the job, e.g. after a response timeout.
func (j *Job) Abort(err error) Outcome {
	if j.stage.Terminal() {
		return Outcome{Stage: j.stage, Ignored: true}
	}
	return j.fail(err)
}

func notice(level models.Level, msg string) *models.Notification {
	if msg == "" {
		return nil
	}
	return &models.Notification{Level: level, Message: msg}
}
