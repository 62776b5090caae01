package speech

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Microphone opens a live capture stream of mono PCM16 little-endian audio.
// Closing the stream stops the capture.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Arecord captures from an ALSA device through the arecord tool.
type Arecord struct {
	// Device is the ALSA capture device, e.g. "plughw:1,0".
	Device     string
	SampleRate int
}

// NewArecord creates a capture source for device at sampleRate.
func NewArecord(device string, sampleRate int) *Arecord {
	if device == "" {
		device = "default"
	}
	return &Arecord{Device: device, SampleRate: sampleRate}
}

// Open starts arecord and returns its raw output.
func (a *Arecord) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, "arecord",
		"-q",
		"-D", a.Device,
		"-f", "S16_LE",
		"-c", "1",
		"-r", strconv.Itoa(a.SampleRate),
		"-t", "raw",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("speech: arecord stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("speech: start arecord: %w", err)
	}
	return &captureStream{cmd: cmd, ReadCloser: stdout}, nil
}

type captureStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (s *captureStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.ReadCloser.Close()
		_ = s.cmd.Wait()
	})
	return nil
}
