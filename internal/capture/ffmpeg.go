package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/himanishpuri/acousticlink/internal/protocol"
)

// FFmpegDevice captures audio by running ffmpeg against a PulseAudio (or
// other) input and reading raw s16le PCM from its stdout.
type FFmpegDevice struct {
	Binary          string
	InputFormat     string // -f value for the input, e.g. pulse, alsa, avfoundation
	MicrophoneInput string
	DeviceInput     string
	StartTimeout    time.Duration
	ChunkSize       int
}

// NewFFmpegDevice returns a PulseAudio device: "default" for the microphone
// and the default sink's monitor for device audio.
func NewFFmpegDevice() *FFmpegDevice {
	return &FFmpegDevice{
		Binary:          "ffmpeg",
		InputFormat:     "pulse",
		MicrophoneInput: "default",
		DeviceInput:     "default.monitor",
		StartTimeout:    30 * time.Second,
		ChunkSize:       4096,
	}
}

func (d *FFmpegDevice) args(source Source, c Constraints) []string {
	input := d.MicrophoneInput
	if source == SourceDevice {
		input = d.DeviceInput
	}
	// No -af: gain, echo and noise processing stay off.
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.InputFormat,
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(c.Channels),
		"-ar", strconv.Itoa(c.SampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	}
}

// Open starts ffmpeg and waits for the first PCM bytes. An ffmpeg that exits
// before producing audio means the input was refused.
func (d *FFmpegDevice) Open(ctx context.Context, source Source, c Constraints) (Stream, error) {
	if c.SampleSize != 0 && c.SampleSize != 16 {
		return nil, fmt.Errorf("%w: unsupported sample size %d", protocol.ErrDeviceUnavailable, c.SampleSize)
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultConstraints().SampleRate
	}

	bin, err := exec.LookPath(d.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", protocol.ErrDeviceUnavailable, d.Binary, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, bin, d.args(source, c)...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", protocol.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: starting ffmpeg: %v", protocol.ErrDeviceUnavailable, err)
	}

	s := &ffmpegStream{
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
		settings: Settings{
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
			SampleSize: 16,
		},
		chunks: make(chan []byte, 64),
		ended:  make(chan struct{}),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read(stdout, d.ChunkSize)

	timeout := d.StartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return s, nil
	case <-s.ended:
		s.Close()
		return nil, fmt.Errorf("%w: ffmpeg exited: %s", protocol.ErrDeviceUnavailable, s.stderr.summary())
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("%w: no audio after %s", protocol.ErrDeviceUnavailable, timeout)
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

type ffmpegStream struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stderr   *syncBuffer
	settings Settings

	chunks chan []byte
	ended  chan struct{}
	ready  chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

func (s *ffmpegStream) read(r io.Reader, size int) {
	defer close(s.ended)
	if size <= 0 {
		size = 4096
	}

	first := true
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 {
			if first {
				close(s.ready)
				first = false
			}
			select {
			case s.chunks <- buf[:n]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *ffmpegStream) Settings() Settings     { return s.settings }
func (s *ffmpegStream) Chunks() <-chan []byte  { return s.chunks }
func (s *ffmpegStream) Ended() <-chan struct{} { return s.ended }
func (s *ffmpegStream) Tracks() []Track        { return []Track{ffmpegTrack{s}} }

func (s *ffmpegStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.cmd.Wait()
	})
	return nil
}

type ffmpegTrack struct{ s *ffmpegStream }

func (ffmpegTrack) Kind() TrackKind { return TrackAudio }
func (t ffmpegTrack) Stop()         { t.s.Close() }

// syncBuffer collects ffmpeg's stderr while the process runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) summary() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := strings.TrimSpace(b.buf.String())
	if out == "" {
		return "no output"
	}
	if len(out) > 512 {
		out = out[len(out)-512:]
	}
	return out
}
