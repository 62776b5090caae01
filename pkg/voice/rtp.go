package voice

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-robbie/internal/log"
)

// RTPConfig configures the speaker stream.
type RTPConfig struct {
	// Addr is the UDP destination of the speaker pipeline.
	Addr string

	PayloadType uint8

	// SampleRate is the Opus encoding rate.
	SampleRate int

	// FrameDuration is the audio carried by one packet.
	FrameDuration time.Duration

	// Bitrate in bits per second. Zero keeps the encoder default.
	Bitrate int
}

// DefaultRTPConfig matches the speaker daemon on the robot: 48 kHz mono
// Opus in 20 ms frames, payload type 96, on 127.0.0.1:5000.
func DefaultRTPConfig() RTPConfig {
	return RTPConfig{
		Addr:          "127.0.0.1:5000",
		PayloadType:   96,
		SampleRate:    48000,
		FrameDuration: 20 * time.Millisecond,
		Bitrate:       32000,
	}
}

// frameEncoder is satisfied by *opus.Encoder.
type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// RTPSink plays PCM by streaming Opus RTP packets over UDP in real time.
type RTPSink struct {
	cfg    RTPConfig
	conn   net.Conn
	enc    frameEncoder
	logger *slog.Logger

	// mu serializes playbacks and guards the RTP counters.
	mu   sync.Mutex
	seq  uint16
	ts   uint32
	ssrc uint32
}

// NewRTPSink dials the speaker address and creates the Opus encoder.
func NewRTPSink(cfg RTPConfig) (*RTPSink, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("voice: opus encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("voice: opus bitrate: %w", err)
		}
	}

	conn, err := net.Dial("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("voice: dial speaker %s: %w", cfg.Addr, err)
	}
	return newRTPSink(cfg, conn, enc), nil
}

func newRTPSink(cfg RTPConfig, conn net.Conn, enc frameEncoder) *RTPSink {
	return &RTPSink{
		cfg:    cfg,
		conn:   conn,
		enc:    enc,
		logger: log.Component("voice.rtp"),
		seq:    uint16(rand.Uint32()),
		ts:     rand.Uint32(),
		ssrc:   rand.Uint32(),
	}
}

// Play streams pcm, recorded at sampleRate, and returns once the last packet
// is due to have been played or ctx is cancelled.
func (s *RTPSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	samples := Resample(BytesToSamples(pcm), sampleRate, s.cfg.SampleRate)
	frameSize := int(int64(s.cfg.SampleRate) * int64(s.cfg.FrameDuration) / int64(time.Second))
	chunks := frames(samples, frameSize)
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.FrameDuration)
	defer ticker.Stop()

	buf := make([]byte, 1500)
	for i, chunk := range chunks {
		n, err := s.enc.Encode(chunk, buf)
		if err != nil {
			return fmt.Errorf("voice: opus encode: %w", err)
		}

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    s.cfg.PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.ssrc,
			},
			Payload: buf[:n],
		}
		data, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("voice: rtp marshal: %w", err)
		}
		if _, err := s.conn.Write(data); err != nil {
			return fmt.Errorf("voice: rtp write: %w", err)
		}
		s.seq++
		s.ts += uint32(frameSize)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	s.logger.Debug("played", "packets", len(chunks), "duration", Duration(pcm, sampleRate))
	return nil
}

// Close closes the UDP socket.
func (s *RTPSink) Close() error {
	return s.conn.Close()
}

// DiscardSink drops audio but takes as long as playing it would.
type DiscardSink struct{}

// Play waits for the duration of pcm or until ctx is cancelled.
func (DiscardSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	t := time.NewTimer(Duration(pcm, sampleRate))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	_ Sink = (*RTPSink)(nil)
	_ Sink = DiscardSink{}
)
