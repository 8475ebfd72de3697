package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/himanishpuri/acousticlink/internal/acquisition"
	"github.com/himanishpuri/acousticlink/internal/capture"
	"github.com/himanishpuri/acousticlink/internal/capture/capturetest"
	"github.com/himanishpuri/acousticlink/internal/channel"
	"github.com/himanishpuri/acousticlink/internal/protocol"
	"github.com/himanishpuri/acousticlink/pkg/logger"
	"github.com/himanishpuri/acousticlink/pkg/models"
)

const trackURL = "https://open.spotify.com/track/abc123"

type memHistory struct {
	mu   sync.Mutex
	recs []Record
}

func (h *memHistory) Record(_ context.Context, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

func (h *memHistory) records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.recs...)
}

type harness struct {
	t       *testing.T
	mem     *channel.Memory
	ctrl    *Controller
	dev     *capturetest.Device
	history *memHistory

	mu    sync.Mutex
	notes []models.Notification
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		mem:     channel.NewMemory(),
		dev:     capturetest.NewDevice(200 * time.Millisecond),
		history: &memHistory{},
	}
	base := []Option{
		WithLogger(logger.Discard()),
		WithDevice(h.dev),
		WithCaptureOptions(capture.WithDuration(30*time.Millisecond), capture.WithTempDir(t.TempDir())),
		WithResetDelay(time.Hour),
		WithHistory(h.history),
		WithNotifier(func(n models.Notification) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.notes = append(h.notes, n)
		}),
	}
	h.ctrl = New(h.mem, append(base, opts...)...)
	t.Cleanup(func() { h.mem.Close() })
	t.Cleanup(func() { h.ctrl.Close() })
	return h
}

func (h *harness) notifications(level models.Level) []models.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.Notification
	for _, n := range h.notes {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}

// next returns the next outbound message.
func (h *harness) next() channel.Message {
	h.t.Helper()
	select {
	case msg := <-h.mem.Outbound():
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for an outbound message")
		return channel.Message{}
	}
}

func (h *harness) nextCommand(want protocol.Command) protocol.ProcessURL {
	h.t.Helper()
	msg := h.next()
	if msg.Event != protocol.EventProcessURL {
		h.t.Fatalf("outbound event = %s, want %s", msg.Event, protocol.EventProcessURL)
	}
	var cmd protocol.ProcessURL
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		h.t.Fatalf("decoding processURL: %v", err)
	}
	if cmd.Command != want {
		h.t.Fatalf("command = %s, want %s", cmd.Command, want)
	}
	if msg.RequestID == "" || msg.RequestID != h.ctrl.Snapshot().RequestID {
		h.t.Fatalf("command carries id %q, active request is %q", msg.RequestID, h.ctrl.Snapshot().RequestID)
	}
	return cmd
}

func (h *harness) noMore() {
	h.t.Helper()
	select {
	case msg := <-h.mem.Outbound():
		h.t.Fatalf("unexpected outbound %s: %s", msg.Event, msg.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

// deliver plays the service. id "" sends no correlation id.
func (h *harness) deliver(event, id, data string) {
	h.t.Helper()
	if !h.mem.Deliver(channel.Message{Event: event, RequestID: id, Data: json.RawMessage(data)}) {
		h.t.Fatalf("no subscriber for %s (subscribed: %v)", event, h.mem.Subscribed())
	}
}

func (h *harness) reply(event, data string) {
	h.t.Helper()
	h.deliver(event, h.ctrl.Snapshot().RequestID, data)
}

func (h *harness) waitState(want State) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := h.ctrl.Snapshot()
		if snap.State == want {
			return snap
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("state = %s, want %s", snap.State, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// settle waits for the loop to drain everything posted so far.
func (h *harness) settle() {
	h.t.Helper()
	if err := h.ctrl.do(context.Background(), func() error { return nil }); err != nil {
		h.t.Fatalf("loop: %v", err)
	}
}

func (h *harness) submit() {
	h.t.Helper()
	if err := h.ctrl.SubmitURL(context.Background(), trackURL); err != nil {
		h.t.Fatalf("SubmitURL failed: %v", err)
	}
	cmd := h.nextCommand(protocol.CommandCheckAndProcess)
	if cmd.URL != trackURL || cmd.Type != models.KindTrack {
		h.t.Fatalf("unexpected check_and_process %+v", cmd)
	}
}

func waitStream(t *testing.T, dev *capturetest.Device) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(dev.Streams()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never opened")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sentCommands(mem *channel.Memory) []protocol.Command {
	var out []protocol.Command
	for _, msg := range mem.Sent() {
		if msg.Event != protocol.EventProcessURL {
			continue
		}
		var cmd protocol.ProcessURL
		if json.Unmarshal(msg.Data, &cmd) == nil {
			out = append(out, cmd.Command)
		}
	}
	return out
}

const twoMatches = `[{"SongTitle":"First","SongArtist":"A","Score":91.5,"YouTubeID":"yt1","Timestamp":1200,"SongID":1},` +
	`{"SongTitle":"Second","SongArtist":"B","Score":12,"SongID":2}]`

func TestSubmitSendsExactlyOneProcessURL(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.noMore()

	if n := len(h.mem.Sent()); n != 1 {
		t.Fatalf("sent %d messages before any response, want 1", n)
	}
	snap := h.waitState(StateCacheCheck)
	if snap.Path != PathTrack || snap.Reference != trackURL {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	got := h.mem.Subscribed()
	if strings.Join(got, ",") != "cacheStatus,downloadStatus,provenanceMatch,similarityResults" {
		t.Errorf("subscribed = %v", got)
	}
}

// Scenario A: cache miss, download, similarity results.
func TestTrackCacheMissDownloadSimilarity(t *testing.T) {
	h := newHarness(t)
	h.submit()

	h.reply("cacheStatus", `{"found":false,"url":"`+trackURL+`","type":"track"}`)
	cmd := h.nextCommand(protocol.CommandDownload)
	if cmd.URL != trackURL || cmd.Type != models.KindTrack {
		t.Fatalf("unexpected download %+v", cmd)
	}
	h.waitState(StateDownloading)

	h.reply("downloadStatus", `{"type":"success","message":"ok","filename":"abc123.wav"}`)
	cmd = h.nextCommand(protocol.CommandFindAndSave)
	if cmd.FilePath != "abc123.wav" {
		t.Fatalf("find_and_save file = %q", cmd.FilePath)
	}
	h.waitState(StateFingerprinting)

	encoded, _ := json.Marshal(twoMatches) // the service double-encodes results
	h.reply("similarityResults", string(encoded))
	snap := h.waitState(StateComplete)

	if len(snap.Matches) != 2 {
		t.Fatalf("rendered %d matches, want 2", len(snap.Matches))
	}
	if snap.Matches[0].Title != "First" || snap.Matches[0].Score != 91.5 || snap.Matches[0].ExternalID != "yt1" {
		t.Errorf("unexpected first match %+v", snap.Matches[0])
	}
	if snap.Provenance != nil {
		t.Error("unexpected provenance")
	}

	// trailing "Analysis complete" keeps the result
	h.reply("downloadStatus", `{"type":"success","message":"Analysis complete"}`)
	h.settle()
	if snap := h.ctrl.Snapshot(); snap.State != StateComplete || len(snap.Matches) != 2 {
		t.Fatalf("trailing status changed the result: %+v", snap)
	}
	h.noMore()
}

// Scenario B: cache hit goes straight to find_and_save.
func TestTrackCacheHitProvenance(t *testing.T) {
	h := newHarness(t)
	h.submit()

	h.reply("cacheStatus", `{"found":true,"filePath":"abc123.wav"}`)
	cmd := h.nextCommand(protocol.CommandFindAndSave)
	if cmd.FilePath != "abc123.wav" {
		t.Fatalf("find_and_save file = %q", cmd.FilePath)
	}
	h.waitState(StateFingerprinting)

	h.reply("provenanceMatch", `{"contentHash":"blake3:ff00","timestamp":1718000000,"owner":"Label Records","metadata":{"isrc":"USRC17607839"}}`)
	snap := h.waitState(StateComplete)

	if snap.Provenance == nil || snap.Provenance.ContentHash != "blake3:ff00" || snap.Provenance.Owner != "Label Records" {
		t.Fatalf("unexpected provenance %+v", snap.Provenance)
	}
	if snap.Provenance.Timestamp != "1718000000" || snap.Provenance.Metadata["isrc"] != "USRC17607839" {
		t.Errorf("unexpected provenance fields %+v", snap.Provenance)
	}
	if len(snap.Matches) != 0 {
		t.Errorf("unexpected similarity list %+v", snap.Matches)
	}

	for _, c := range sentCommands(h.mem) {
		if c == protocol.CommandDownload {
			t.Fatal("download sent after a cache hit")
		}
	}
}

// Scenario C: the benign transcode warning advances instead of failing.
func TestBenignTranscodeWarningAdvances(t *testing.T) {
	payloads := []string{
		`{"type":"error","message":"Failed to convert to WAV: codec mismatch"}`,
		`"ffmpeg: FAILED TO CONVERT TO WAV"`,
		`"{\"type\":\"error\",\"message\":\"failed to convert to wav\"}"`,
		`{"type":"error","message":"transcoder hiccup","code":"transcode_warning"}`,
	}
	for i, payload := range payloads {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			h := newHarness(t)
			h.submit()
			h.reply("cacheStatus", `{"found":false}`)
			h.nextCommand(protocol.CommandDownload)

			h.reply("downloadStatus", payload)
			h.waitState(StateFingerprinting)
			h.reply("downloadStatus", payload)
			h.settle()

			if st := h.ctrl.Snapshot().State; st != StateFingerprinting {
				t.Fatalf("state after repeat = %s", st)
			}
			if errs := h.notifications(models.LevelError); len(errs) != 0 {
				t.Fatalf("error notification shown: %+v", errs)
			}
			h.noMore()
		})
	}
}

func TestSuccessAfterTranscodeWarningFingerprints(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.reply("cacheStatus", `{"found":false}`)
	h.nextCommand(protocol.CommandDownload)

	h.reply("downloadStatus", `{"type":"error","message":"failed to convert to wav"}`)
	h.waitState(StateFingerprinting)

	h.reply("downloadStatus", `{"type":"success","message":"ok","filename":"abc123.wav"}`)
	cmd := h.nextCommand(protocol.CommandFindAndSave)
	if cmd.FilePath != "abc123.wav" {
		t.Fatalf("find_and_save file = %q", cmd.FilePath)
	}

	h.reply("similarityResults", `[{"SongTitle":"Song","SongArtist":"Artist","Score":0.8}]`)
	snap := h.waitState(StateComplete)
	if len(snap.Matches) != 1 {
		t.Fatalf("matches = %+v", snap.Matches)
	}
}

// Scenario D: permission denied. No stream, no recording.
func TestCapturePermissionDenied(t *testing.T) {
	h := newHarness(t, WithResetDelay(100*time.Millisecond))
	h.dev.Err = fmt.Errorf("%w: NotAllowedError", protocol.ErrDeviceUnavailable)

	if err := h.ctrl.StartCapture(context.Background(), capture.SourceMicrophone); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	snap := h.waitState(StateError)
	if snap.ErrorKind != "device_unavailable" {
		t.Errorf("ErrorKind = %q", snap.ErrorKind)
	}
	if len(h.dev.Streams()) != 0 {
		t.Fatal("a stream was allocated")
	}
	for _, msg := range h.mem.Sent() {
		if msg.Event == protocol.EventNewRecording {
			t.Fatal("newRecording emitted")
		}
	}
	if len(h.notifications(models.LevelError)) != 1 {
		t.Errorf("expected one error notification, got %+v", h.notes)
	}

	h.waitState(StateIdle)
	recs := h.history.records()
	if len(recs) != 1 || recs[0].State != StateError || !errors.Is(recs[0].Err, protocol.ErrDeviceUnavailable) {
		t.Fatalf("unexpected history %+v", recs)
	}
}

func TestSimilarityAndProvenanceMerge(t *testing.T) {
	sim := `[{"SongTitle":"Only","SongArtist":"X","Score":5}]`
	prov := `{"contentHash":"h1","timestamp":"2024-01-01T00:00:00Z","owner":"o"}`
	orders := map[string][][2]string{
		"similarity first": {{"similarityResults", sim}, {"provenanceMatch", prov}},
		"provenance first": {{"provenanceMatch", prov}, {"similarityResults", sim}},
	}
	for name, events := range orders {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.submit()
			h.reply("cacheStatus", `{"found":true,"filePath":"f.wav"}`)
			h.nextCommand(protocol.CommandFindAndSave)

			for _, ev := range events {
				h.reply(ev[0], ev[1])
			}
			h.settle()

			snap := h.ctrl.Snapshot()
			if snap.State != StateComplete {
				t.Fatalf("state = %s", snap.State)
			}
			if len(snap.Matches) != 1 || snap.Provenance == nil || snap.Provenance.ContentHash != "h1" {
				t.Fatalf("result not merged: %+v", snap)
			}

			if err := h.ctrl.Reset(context.Background()); err != nil {
				t.Fatalf("Reset failed: %v", err)
			}
			recs := h.history.records()
			if len(recs) != 1 || len(recs[0].Result.Matches) != 1 || recs[0].Result.Provenance == nil {
				t.Fatalf("history did not keep the merged result: %+v", recs)
			}
		})
	}
}

func TestEmptySimilarityIsNoMatch(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.reply("cacheStatus", `{"found":true,"filePath":"f.wav"}`)
	h.nextCommand(protocol.CommandFindAndSave)

	h.reply("similarityResults", `"[]"`)
	snap := h.waitState(StateComplete)
	if !snap.NoMatch || snap.Error != "" {
		t.Fatalf("expected no-match completion, got %+v", snap)
	}
}

func TestAnalysisCompleteWithoutResults(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.reply("cacheStatus", `{"found":false}`)
	h.nextCommand(protocol.CommandDownload)
	h.reply("downloadStatus", `"Starting download..."`)
	h.reply("downloadStatus", `{"type":"success","message":"ok","filename":"a.wav"}`)
	h.nextCommand(protocol.CommandFindAndSave)

	h.reply("downloadStatus", `{"type":"success","message":"Analysis complete"}`)
	snap := h.waitState(StateComplete)
	if !snap.NoMatch {
		t.Fatalf("expected no match, got %+v", snap)
	}
	if infos := h.notifications(models.LevelInfo); len(infos) != 1 || infos[0].Message != "Starting download..." {
		t.Errorf("info notifications = %+v", infos)
	}
}

func TestRemoteDownloadFailure(t *testing.T) {
	h := newHarness(t, WithResetDelay(50*time.Millisecond))
	h.submit()
	h.reply("cacheStatus", `{"found":false}`)
	h.nextCommand(protocol.CommandDownload)

	h.reply("downloadStatus", `{"type":"error","message":"Download failed: video unavailable"}`)
	snap := h.waitState(StateError)
	if snap.ErrorKind != "remote_error" || snap.Error != "Download failed: video unavailable" {
		t.Fatalf("unexpected error snapshot %+v", snap)
	}
	if got := h.mem.Subscribed(); len(got) != 0 {
		t.Errorf("subscriptions left after error: %v", got)
	}
	errs := h.notifications(models.LevelError)
	if len(errs) != 1 || errs[0].Message != "Download failed: video unavailable" {
		t.Errorf("error notifications = %+v", errs)
	}

	h.waitState(StateIdle)
	recs := h.history.records()
	if len(recs) != 1 || !errors.Is(recs[0].Err, acquisition.ErrRemoteDownloadFailed) {
		t.Fatalf("unexpected history %+v", recs)
	}
}

func TestMalformedEventFails(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.reply("cacheStatus", `{"filePath":"x"}`)
	snap := h.waitState(StateError)
	if snap.ErrorKind != "protocol_parse" {
		t.Fatalf("ErrorKind = %q", snap.ErrorKind)
	}
}

func TestStaleRequestIDIgnored(t *testing.T) {
	h := newHarness(t)
	h.submit()

	h.deliver("cacheStatus", "some-other-request", `{"found":true,"filePath":"wrong.wav"}`)
	h.settle()
	if st := h.ctrl.Snapshot().State; st != StateCacheCheck {
		t.Fatalf("stale event moved state to %s", st)
	}
	h.noMore()

	// events without an id are accepted
	h.deliver("cacheStatus", "", `{"found":false}`)
	h.nextCommand(protocol.CommandDownload)
}

func TestResponseTimeout(t *testing.T) {
	h := newHarness(t, WithResponseTimeout(50*time.Millisecond))
	h.submit()

	snap := h.waitState(StateError)
	if snap.ErrorKind != "timeout" {
		t.Fatalf("ErrorKind = %q", snap.ErrorKind)
	}
	if len(h.notifications(models.LevelError)) != 1 {
		t.Errorf("expected a timeout notification")
	}
	h.noMore()
}

func TestResponseTimeoutRearmedByEvents(t *testing.T) {
	h := newHarness(t, WithResponseTimeout(150*time.Millisecond))
	h.submit()

	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		h.reply("downloadStatus", `"still working"`)
	}
	h.settle()
	if st := h.ctrl.Snapshot().State; st != StateCacheCheck {
		t.Fatalf("state = %s, want the timer re-armed", st)
	}
}

func TestInvalidURLSendsNothing(t *testing.T) {
	var mu sync.Mutex
	var states []State
	h := newHarness(t, WithObserver(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	}))

	err := h.ctrl.SubmitURL(context.Background(), "https://open.spotify.com/artist/abc")
	if !errors.Is(err, acquisition.ErrInvalidReference) || !errors.Is(err, protocol.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidReference", err)
	}
	if len(h.mem.Sent()) != 0 {
		t.Fatal("a command was sent for an invalid URL")
	}
	if st := h.ctrl.Snapshot().State; st != StateIdle {
		t.Fatalf("state = %s", st)
	}
	if len(h.mem.Subscribed()) != 0 {
		t.Fatalf("subscriptions left: %v", h.mem.Subscribed())
	}
	if len(h.notifications(models.LevelError)) != 1 {
		t.Error("expected an error notification")
	}
	h.settle()
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 0 {
		t.Errorf("observer saw %v for an invalid URL", states)
	}
}

func TestOnePipelineAtATime(t *testing.T) {
	h := newHarness(t)
	h.submit()

	if err := h.ctrl.SubmitURL(context.Background(), trackURL); !errors.Is(err, ErrBusy) {
		t.Fatalf("second SubmitURL err = %v, want ErrBusy", err)
	}
	if err := h.ctrl.StartCapture(context.Background(), capture.SourceMicrophone); !errors.Is(err, ErrBusy) {
		t.Fatalf("StartCapture err = %v, want ErrBusy", err)
	}
	if err := h.ctrl.Reset(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("Reset while active err = %v, want ErrBusy", err)
	}
	if err := h.ctrl.StopCapture(context.Background()); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("StopCapture on track path err = %v, want ErrNotCapturing", err)
	}
	h.noMore()
}

func TestCaptureMatchesCappedAndAutoReset(t *testing.T) {
	var mu sync.Mutex
	var states []State
	h := newHarness(t,
		WithResetDelay(300*time.Millisecond),
		WithObserver(func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			if len(states) == 0 || states[len(states)-1] != s.State {
				states = append(states, s.State)
			}
		}),
	)

	if err := h.ctrl.StartCapture(context.Background(), capture.SourceDevice); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	msg := h.next()
	if msg.Event != protocol.EventNewRecording {
		t.Fatalf("outbound event = %s", msg.Event)
	}
	var q protocol.AudioQuery
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		t.Fatalf("decoding query: %v", err)
	}
	if q.Audio == "" || q.SampleRate != 8000 || q.Channels != 1 || q.SampleSize != 16 || q.Duration < 0.19 {
		t.Fatalf("unexpected query %+v", q)
	}
	h.waitState(StateAwaitingMatch)

	var results []string
	for i := 0; i < 7; i++ {
		results = append(results, fmt.Sprintf(`{"SongTitle":"Song %d","SongArtist":"A","Score":%d}`, i, 100-i))
	}
	h.deliver("matches", msg.RequestID, "["+strings.Join(results, ",")+"]")

	snap := h.waitState(StateComplete)
	if len(snap.Matches) != MaxCaptureMatches {
		t.Fatalf("rendered %d matches, want %d", len(snap.Matches), MaxCaptureMatches)
	}
	if snap.Matches[0].Title != "Song 0" || snap.Matches[4].Title != "Song 4" {
		t.Errorf("order not preserved: %+v", snap.Matches)
	}
	if got := h.mem.Subscribed(); len(got) != 0 {
		t.Errorf("subscriptions left after match: %v", got)
	}
	if !h.dev.Streams()[0].Closed() {
		t.Error("stream not released")
	}

	h.waitState(StateIdle)
	recs := h.history.records()
	if len(recs) != 1 || len(recs[0].Result.Matches) != 7 || recs[0].Path != PathCapture {
		t.Fatalf("unexpected history %+v", recs)
	}

	mu.Lock()
	defer mu.Unlock()
	got := fmt.Sprint(states)
	if !strings.HasPrefix(got, "[capturing") || !strings.Contains(got, "awaiting_match complete idle") {
		t.Errorf("state sequence = %s", got)
	}
}

func TestCaptureNoMatch(t *testing.T) {
	for _, payload := range []string{`null`, `[]`, `"null"`} {
		h := newHarness(t)
		if err := h.ctrl.StartCapture(context.Background(), capture.SourceMicrophone); err != nil {
			t.Fatalf("StartCapture failed: %v", err)
		}
		msg := h.next()
		h.waitState(StateAwaitingMatch)

		h.deliver("matches", msg.RequestID, payload)
		snap := h.waitState(StateComplete)
		if !snap.NoMatch || snap.Error != "" {
			t.Fatalf("%s: expected no match, got %+v", payload, snap)
		}
		infos := h.notifications(models.LevelInfo)
		if len(infos) != 1 || infos[0].Message != "No song found." {
			t.Errorf("%s: info notifications = %+v", payload, infos)
		}
	}
}

func TestStopCaptureEmitsNothing(t *testing.T) {
	h := newHarness(t, WithCaptureOptions(capture.WithDuration(time.Minute)))

	if err := h.ctrl.StartCapture(context.Background(), capture.SourceMicrophone); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	h.waitState(StateCapturing)
	waitStream(t, h.dev)

	if err := h.ctrl.StopCapture(context.Background()); err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if st := h.ctrl.Snapshot().State; st != StateIdle {
		t.Fatalf("state after stop = %s", st)
	}
	if err := h.ctrl.StopCapture(context.Background()); err != nil {
		t.Fatalf("second StopCapture = %v, want no-op", err)
	}
	h.noMore()

	deadline := time.Now().Add(2 * time.Second)
	for !h.dev.Streams()[0].Closed() {
		if time.Now().After(deadline) {
			t.Fatal("stream never released")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if len(h.history.records()) != 0 {
		t.Error("a stopped capture was recorded")
	}
}

func TestTrackEndedStopsCapture(t *testing.T) {
	h := newHarness(t, WithCaptureOptions(capture.WithDuration(time.Minute)))

	if err := h.ctrl.StartCapture(context.Background(), capture.SourceDevice); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	h.waitState(StateCapturing)
	waitStream(t, h.dev)
	h.dev.Streams()[0].End()

	h.waitState(StateIdle)
	h.noMore()
	if !h.dev.Streams()[0].Closed() {
		t.Error("stream not released")
	}
}

func TestStartCaptureWithoutDevice(t *testing.T) {
	mem := channel.NewMemory()
	defer mem.Close()
	ctrl := New(mem, WithLogger(logger.Discard()))
	defer ctrl.Close()

	if err := ctrl.StartCapture(context.Background(), capture.SourceMicrophone); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}

func TestResetClearsResult(t *testing.T) {
	h := newHarness(t)
	h.submit()
	h.reply("cacheStatus", `{"found":true,"filePath":"f.wav"}`)
	h.nextCommand(protocol.CommandFindAndSave)
	h.reply("similarityResults", twoMatches)
	h.waitState(StateComplete)

	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateIdle || len(snap.Matches) != 0 || snap.RequestID != "" {
		t.Fatalf("reset left state behind: %+v", snap)
	}
	if len(h.mem.Subscribed()) != 0 {
		t.Fatalf("subscriptions left after reset: %v", h.mem.Subscribed())
	}
	if err := h.ctrl.Reset(context.Background()); err != nil {
		t.Fatalf("Reset on idle = %v", err)
	}
	if n := len(h.history.records()); n != 1 {
		t.Fatalf("history recorded %d times, want 1", n)
	}

	// a late event for the old request is dropped
	if h.mem.Deliver(channel.Message{Event: "similarityResults", Data: json.RawMessage(twoMatches)}) {
		t.Fatal("old handler still subscribed")
	}
}

func TestCloseRejectsCalls(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Close()
	if err := h.ctrl.SubmitURL(context.Background(), trackURL); !errors.Is(err, ErrClosed) {
		t.Fatalf("SubmitURL after Close = %v, want ErrClosed", err)
	}
}
