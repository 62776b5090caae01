package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/perception"
)

// ErrProducerNotFound is returned when the signalling server does not list
// the configured producer.
var ErrProducerNotFound = errors.New("camera: producer not found")

// WebRTCConfig configures a remote camera reached through a GStreamer
// webrtcsink signalling server.
type WebRTCConfig struct {
	SignallingURL string

	// ProducerName is matched against the producers' "name" meta field.
	ProducerName string

	HandshakeTimeout time.Duration
	ConnectTimeout   time.Duration

	// DecodeInterval is the time between H264 decodes.
	DecodeInterval time.Duration
}

// DefaultWebRTCConfig returns the defaults for a signalling server on host.
func DefaultWebRTCConfig(host string) WebRTCConfig {
	return WebRTCConfig{
		SignallingURL:    fmt.Sprintf("ws://%s:8443", host),
		ProducerName:     "robbie",
		HandshakeTimeout: 10 * time.Second,
		ConnectTimeout:   15 * time.Second,
		DecodeInterval:   100 * time.Millisecond,
	}
}

// Decoder turns a chunk of Annex-B H264 into one JPEG image.
type Decoder interface {
	Decode(ctx context.Context, h264 []byte) ([]byte, error)
}

// FFmpegDecoder decodes with an ffmpeg process per chunk.
type FFmpegDecoder struct {
	// Timeout bounds a single decode.
	Timeout time.Duration
}

// Decode implements Decoder. Chunks without a complete picture return nil.
func (d FFmpegDecoder) Decode(ctx context.Context, h264 []byte) ([]byte, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(h264)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// ffmpeg exits non-zero when the chunk holds no full frame.
		return nil, nil
	}
	return stdout.Bytes(), nil
}

// signal is a signalling server message.
type signal struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Producers []struct {
		ID   string            `json:"id"`
		Meta map[string]string `json:"meta"`
	} `json:"producers,omitempty"`
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp,omitempty"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice,omitempty"`
}

// WebRTCSource receives the robot's H264 stream over WebRTC and keeps the
// latest decoded frame.
type WebRTCSource struct {
	cfg     WebRTCConfig
	decoder Decoder
	latest  latestFrame
	logger  *slog.Logger

	ws      *websocket.Conn
	wsMu    sync.Mutex
	pc      *webrtc.PeerConnection
	trackUp chan struct{}

	mu         sync.Mutex
	peerID     string
	producerID string
	sessionID  string
}

// NewWebRTCSource creates a source. A nil decoder selects FFmpegDecoder.
func NewWebRTCSource(cfg WebRTCConfig, decoder Decoder) *WebRTCSource {
	if decoder == nil {
		decoder = FFmpegDecoder{Timeout: time.Second}
	}
	return &WebRTCSource{
		cfg:     cfg,
		decoder: decoder,
		trackUp: make(chan struct{}, 1),
		logger:  log.Component("camera"),
	}
}

// LatestFrame implements perception.FrameSource.
func (s *WebRTCSource) LatestFrame(ctx context.Context) (*perception.Frame, error) {
	return s.latest.get(), nil
}

// Run connects and receives until ctx is cancelled.
func (s *WebRTCSource) Run(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		s.close()
		return err
	}
	<-ctx.Done()
	s.close()
	return ctx.Err()
}

func (s *WebRTCSource) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, s.cfg.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("camera: signalling connect: %w", err)
	}
	s.ws = ws

	welcome, err := s.read(s.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("camera: welcome: %w", err)
	}
	if welcome.Type != "welcome" {
		return fmt.Errorf("camera: expected welcome, got %q", welcome.Type)
	}
	s.mu.Lock()
	s.peerID = welcome.PeerID
	s.mu.Unlock()

	producer, err := s.findProducer()
	if err != nil {
		return err
	}
	s.logger.Info("camera producer found", "producer", producer)

	if err := s.createPeerConnection(ctx); err != nil {
		return fmt.Errorf("camera: peer connection: %w", err)
	}
	if err := s.write(map[string]string{"type": "startSession", "peerId": producer}); err != nil {
		return fmt.Errorf("camera: start session: %w", err)
	}

	go s.handleSignalling()

	select {
	case <-s.trackUp:
		s.logger.Info("camera stream connected")
		return nil
	case <-time.After(s.cfg.ConnectTimeout):
		return fmt.Errorf("camera: timeout waiting for video")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WebRTCSource) read(timeout time.Duration) (signal, error) {
	var msg signal
	if timeout > 0 {
		s.ws.SetReadDeadline(time.Now().Add(timeout))
		defer s.ws.SetReadDeadline(time.Time{})
	}
	err := s.ws.ReadJSON(&msg)
	return msg, err
}

func (s *WebRTCSource) write(v any) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *WebRTCSource) findProducer() (string, error) {
	if err := s.write(map[string]string{"type": "list"}); err != nil {
		return "", fmt.Errorf("camera: list producers: %w", err)
	}
	resp, err := s.read(s.cfg.HandshakeTimeout)
	if err != nil {
		return "", fmt.Errorf("camera: list producers: %w", err)
	}
	for _, p := range resp.Producers {
		if p.Meta["name"] == s.cfg.ProducerName {
			s.mu.Lock()
			s.producerID = p.ID
			s.mu.Unlock()
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q among %d producers", ErrProducerNotFound, s.cfg.ProducerName, len(resp.Producers))
}

func (s *WebRTCSource) createPeerConnection(ctx context.Context) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	s.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.logger.Info("camera track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go s.receive(ctx, track)
		}
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			s.sendICE(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("camera connection state", "state", state.String())
	})
	return nil
}

func (s *WebRTCSource) handleSignalling() {
	for {
		msg, err := s.read(0)
		if err != nil {
			s.logger.Debug("signalling closed", "error", err)
			return
		}
		switch msg.Type {
		case "sessionStarted":
			s.mu.Lock()
			s.sessionID = msg.SessionID
			s.mu.Unlock()
		case "peer":
			s.handlePeer(msg)
		case "endSession":
			s.logger.Warn("camera session ended by producer")
			return
		}
	}
}

func (s *WebRTCSource) handlePeer(msg signal) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		if err := s.answer(msg.SDP.SDP); err != nil {
			s.logger.Warn("camera negotiation failed", "error", err)
		}
	}
	if msg.ICE != nil {
		s.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		})
	}
}

func (s *WebRTCSource) answer(sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return s.write(map[string]any{
		"type":      "peer",
		"sessionId": s.session(),
		"sdp":       map[string]string{"type": answer.Type.String(), "sdp": answer.SDP},
	})
}

func (s *WebRTCSource) sendICE(c webrtc.ICECandidateInit) {
	session := s.session()
	if session == "" {
		return
	}
	s.write(map[string]any{
		"type":      "peer",
		"sessionId": session,
		"ice": map[string]any{
			"candidate":     c.Candidate,
			"sdpMid":        c.SDPMid,
			"sdpMLineIndex": c.SDPMLineIndex,
		},
	})
}

func (s *WebRTCSource) session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// packetReader is the part of webrtc.TrackRemote the receiver uses.
type packetReader interface {
	ReadRTP() (*rtp.Packet, error)
}

type trackReader struct{ track *webrtc.TrackRemote }

func (r trackReader) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}

// receive depacketizes the track and decodes it at the decode interval.
func (s *WebRTCSource) receive(ctx context.Context, track *webrtc.TrackRemote) {
	select {
	case s.trackUp <- struct{}{}:
	default:
	}
	s.depacketize(ctx, trackReader{track})
}

func (s *WebRTCSource) depacketize(ctx context.Context, r packetReader) {
	var (
		h264       codecs.H264Packet
		chunk      bytes.Buffer
		lastDecode = time.Now()
	)
	for ctx.Err() == nil {
		pkt, err := r.ReadRTP()
		if err != nil {
			return
		}
		nal, err := h264.Unmarshal(pkt.Payload)
		if err != nil || len(nal) == 0 {
			continue
		}
		chunk.Write(nal)

		if time.Since(lastDecode) < s.cfg.DecodeInterval {
			continue
		}
		lastDecode = time.Now()
		s.decode(ctx, chunk.Bytes())
		chunk.Reset()
	}
}

func (s *WebRTCSource) decode(ctx context.Context, h264 []byte) {
	jpeg, err := s.decoder.Decode(ctx, h264)
	if err != nil {
		s.logger.Debug("h264 decode failed", "error", err)
		return
	}
	if len(jpeg) == 0 {
		return
	}
	s.latest.set(&perception.Frame{JPEG: jpeg, CapturedAt: time.Now()})
}

func (s *WebRTCSource) close() {
	if s.pc != nil {
		s.pc.Close()
	}
	if s.ws != nil {
		s.wsMu.Lock()
		s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.wsMu.Unlock()
		s.ws.Close()
	}
}

var _ perception.FrameSource = (*WebRTCSource)(nil)
