package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// BitDepth is the only sample size the capture path produces.
	BitDepth  = 16
	pcmFormat = 1
)

// Info describes a decoded WAV container.
type Info struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
	Size       int
}

func (i Info) String() string {
	return fmt.Sprintf("%.2fs, %d Hz, %d ch, %d-bit (%s)",
		i.Duration.Seconds(), i.SampleRate, i.Channels, i.BitDepth, humanize.Bytes(uint64(i.Size)))
}

// pcm16ToInts converts little-endian signed 16-bit PCM to samples. A trailing
// partial frame is dropped.
func pcm16ToInts(pcm []byte, channels int) []int {
	frameBytes := 2 * channels
	usable := len(pcm) - len(pcm)%frameBytes
	out := make([]int, usable/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return out
}

// EncodePCM16 writes raw little-endian 16-bit PCM as a WAV container to w.
func EncodePCM16(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", channels)
	}

	samples := pcm16ToInts(pcm, channels)
	if len(samples) == 0 {
		return errors.New("no audio captured")
	}

	enc := wav.NewEncoder(w, sampleRate, BitDepth, channels, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("writing PCM frames: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing WAV header: %w", err)
	}
	return nil
}

// Probe decodes a WAV container and reports its authoritative format and duration.
func Probe(data []byte) (Info, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Info{}, errors.New("not a valid WAV file")
	}
	if decoder.WavAudioFormat != pcmFormat {
		return Info{}, fmt.Errorf("unsupported WAV audio format %d: only PCM supported", decoder.WavAudioFormat)
	}

	duration, err := decoder.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("reading duration: %w", err)
	}

	// A fresh decoder: Duration walks the chunk list.
	pcm, err := wav.NewDecoder(bytes.NewReader(data)).FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("decoding PCM data: %w", err)
	}

	info := Info{
		Duration:   duration,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Frames:     pcm.NumFrames(),
		Size:       len(data),
	}
	if info.Frames == 0 {
		return Info{}, errors.New("WAV file contains no audio frames")
	}
	return info, nil
}
