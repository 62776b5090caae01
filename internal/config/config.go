// Package config loads Robbie's YAML configuration.
//
// Every section starts from the owning package's defaults, so a config file
// only needs the values it changes. Secrets are usually supplied through the
// environment, see ApplyEnv.
package config

import (
	"time"

	"github.com/teslashibe/go-robbie/pkg/camera"
	"github.com/teslashibe/go-robbie/pkg/display"
	"github.com/teslashibe/go-robbie/pkg/ears"
	"github.com/teslashibe/go-robbie/pkg/emotion"
	"github.com/teslashibe/go-robbie/pkg/eventlog"
	"github.com/teslashibe/go-robbie/pkg/face"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/intent"
	"github.com/teslashibe/go-robbie/pkg/pantilt"
	"github.com/teslashibe/go-robbie/pkg/perception"
	"github.com/teslashibe/go-robbie/pkg/profile"
	"github.com/teslashibe/go-robbie/pkg/speech"
	"github.com/teslashibe/go-robbie/pkg/upstream"
	"github.com/teslashibe/go-robbie/pkg/voice"
	"github.com/teslashibe/go-robbie/pkg/web"
)

// Camera sources.
const (
	SourceLocal  = "local"
	SourceWebRTC = "webrtc"
)

// Config is the root configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Host runs the device daemon and, for the webrtc source, the camera
	// signalling server.
	Host string `yaml:"host"`

	Camera     CameraConfig     `yaml:"camera"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Identity   IdentityConfig   `yaml:"identity"`
	Perception PerceptionConfig `yaml:"perception"`
	PanTilt    PanTiltConfig    `yaml:"pantilt"`
	Eyes       EyesConfig       `yaml:"eyes"`
	Ears       EarsConfig       `yaml:"ears"`
	Speech     SpeechConfig     `yaml:"speech"`
	Voice      VoiceConfig      `yaml:"voice"`
	Face       FaceConfig       `yaml:"face"`
	Emotion    EmotionConfig    `yaml:"emotion"`
	LUIS       LUISConfig       `yaml:"luis"`
	Profile    ProfileConfig    `yaml:"profile"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	EventLog   EventLogConfig   `yaml:"eventlog"`
	Web        WebConfig        `yaml:"web"`
}

// CameraConfig selects and configures the frame source.
type CameraConfig struct {
	// Source is "local" or "webrtc".
	Source string        `yaml:"source"`
	Local  camera.Config `yaml:"local"`

	// SignallingURL overrides ws://{host}:8443 for the webrtc source.
	SignallingURL string `yaml:"signalling_url"`
	Producer      string `yaml:"producer"`
}

// TrackerConfig configures on-device face detection.
type TrackerConfig struct {
	ModelPath      string  `yaml:"model_path"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	NMSThreshold   float64 `yaml:"nms_threshold"`
}

type IdentityConfig struct {
	MinOverlap      float64       `yaml:"min_overlap"`
	MaxCenterShift  float64       `yaml:"max_center_shift"`
	RetentionWindow time.Duration `yaml:"retention_window"`
}

type PerceptionConfig struct {
	Interval     time.Duration `yaml:"interval"`
	FrameTimeout time.Duration `yaml:"frame_timeout"`
}

// AxisConfig holds the servo limits of one axis, in pulse units.
type AxisConfig struct {
	Channel int `yaml:"channel"`
	Min     int `yaml:"min"`
	Center  int `yaml:"center"`
	Max     int `yaml:"max"`
	Step    int `yaml:"step"`
}

type PanTiltConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Tolerance  int           `yaml:"tolerance"`
	Horizontal AxisConfig    `yaml:"horizontal"`
	Vertical   AxisConfig    `yaml:"vertical"`
}

type EyesConfig struct {
	RevertAfter   time.Duration `yaml:"revert_after"`
	BlinkDuration time.Duration `yaml:"blink_duration"`
	BlinkInterval time.Duration `yaml:"blink_interval"`
}

type EarsConfig struct {
	MinConfidence float64       `yaml:"min_confidence"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

type SpeechConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`

	// Microphone is the ALSA capture device.
	Microphone string `yaml:"microphone"`
}

type VoiceConfig struct {
	// Enabled false discards synthesized speech.
	Enabled bool    `yaml:"enabled"`
	APIKey  string  `yaml:"api_key"`
	Voice   string  `yaml:"voice"`
	Model   string  `yaml:"model"`
	Speed   float64 `yaml:"speed"`

	// RTPAddr is the speaker pipeline's UDP address.
	RTPAddr string `yaml:"rtp_addr"`
}

type FaceConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Key       string `yaml:"key"`
	GroupID   string `yaml:"group_id"`
	GroupName string `yaml:"group_name"`

	// Members are "|" separated names seeded into a new group.
	Members string `yaml:"members"`
}

type EmotionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

type LUISConfig struct {
	Endpoint string `yaml:"endpoint"`
	AppID    string `yaml:"app_id"`
	Key      string `yaml:"key"`

	// Threshold is the minimum intent score acted upon.
	Threshold float64 `yaml:"threshold"`
}

type ProfileConfig struct {
	BaseURL    string `yaml:"base_url"`
	IntentBase string `yaml:"intent_base"`
}

type UpstreamConfig struct {
	// BaseURL receives sense events. Empty keeps them local.
	BaseURL   string `yaml:"base_url"`
	QueueSize int    `yaml:"queue_size"`
}

type EventLogConfig struct {
	// Path of the SQLite database. Empty disables the log.
	Path   string `yaml:"path"`
	Retain int    `yaml:"retain"`
}

type WebConfig struct {
	// Addr is the dashboard listen address. Empty disables the dashboard.
	Addr         string `yaml:"addr"`
	AllowOrigins string `yaml:"allow_origins"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	id := identity.DefaultConfig()
	pc := perception.DefaultConfig()
	pt := pantilt.DefaultConfig()
	eyes := display.DefaultConfig()
	ec := ears.DefaultConfig()
	sc := speech.DefaultConfig()
	vc := voice.DefaultConfig()
	rtp := voice.DefaultRTPConfig()
	fc := face.DefaultConfig()
	yn := face.DefaultYuNetConfig()
	lc := intent.DefaultLUISConfig()
	prof := profile.DefaultConfig()
	up := upstream.DefaultConfig()
	wc := web.DefaultConfig()

	return &Config{
		LogLevel: "info",
		Host:     "localhost",
		Camera: CameraConfig{
			Source:   SourceLocal,
			Local:    camera.DefaultConfig(),
			Producer: "robbie",
		},
		Tracker: TrackerConfig{
			ModelPath:      yn.ModelPath,
			ScoreThreshold: yn.ScoreThreshold,
			NMSThreshold:   yn.NMSThreshold,
		},
		Identity: IdentityConfig{
			MinOverlap:      id.MinOverlap,
			MaxCenterShift:  id.MaxCenterShift,
			RetentionWindow: id.RetentionWindow,
		},
		Perception: PerceptionConfig{
			Interval:     pc.Interval,
			FrameTimeout: pc.FrameTimeout,
		},
		PanTilt: PanTiltConfig{
			Interval:   pt.Interval,
			Tolerance:  pt.Tolerance,
			Horizontal: axisFrom(pt.Horizontal),
			Vertical:   axisFrom(pt.Vertical),
		},
		Eyes: EyesConfig{
			RevertAfter:   eyes.RevertAfter,
			BlinkDuration: eyes.BlinkDuration,
			BlinkInterval: eyes.BlinkInterval,
		},
		Ears: EarsConfig{
			MinConfidence: ec.MinConfidence,
			RetryDelay:    ec.RetryDelay,
		},
		Speech: SpeechConfig{
			Model:      sc.Model,
			Language:   sc.Language,
			Microphone: "default",
		},
		Voice: VoiceConfig{
			Enabled: true,
			Voice:   vc.VoiceID,
			Model:   vc.ModelID,
			Speed:   vc.Speed,
			RTPAddr: rtp.Addr,
		},
		Face: FaceConfig{
			Endpoint:  fc.Endpoint,
			GroupID:   fc.GroupID,
			GroupName: fc.GroupName,
		},
		Emotion: EmotionConfig{Enabled: true},
		LUIS: LUISConfig{
			Endpoint:  lc.Endpoint,
			Threshold: intent.DefaultThreshold,
		},
		Profile: ProfileConfig{BaseURL: prof.BaseURL},
		Upstream: UpstreamConfig{
			BaseURL:   prof.BaseURL,
			QueueSize: up.QueueSize,
		},
		EventLog: EventLogConfig{
			Path:   "robbie-events.db",
			Retain: eventlog.DefaultRetain,
		},
		Web: WebConfig{
			Addr:         wc.Addr,
			AllowOrigins: wc.AllowOrigins,
		},
	}
}

func axisFrom(a pantilt.AxisConfig) AxisConfig {
	return AxisConfig{Channel: a.Channel, Min: a.Min, Center: a.Center, Max: a.Max, Step: a.Step}
}

func (a AxisConfig) axis(name string) pantilt.AxisConfig {
	return pantilt.AxisConfig{
		Name:    name,
		Channel: a.Channel,
		Min:     a.Min,
		Center:  a.Center,
		Max:     a.Max,
		Step:    a.Step,
	}
}

// The methods below build each package's own configuration.

func (c *Config) WebRTCConfig() camera.WebRTCConfig {
	wc := camera.DefaultWebRTCConfig(c.Host)
	if c.Camera.SignallingURL != "" {
		wc.SignallingURL = c.Camera.SignallingURL
	}
	if c.Camera.Producer != "" {
		wc.ProducerName = c.Camera.Producer
	}
	return wc
}

func (c *Config) YuNetConfig() face.YuNetConfig {
	yc := face.DefaultYuNetConfig()
	yc.ModelPath = c.Tracker.ModelPath
	yc.ScoreThreshold = c.Tracker.ScoreThreshold
	yc.NMSThreshold = c.Tracker.NMSThreshold
	return yc
}

func (c *Config) IdentityConfig() identity.Config {
	return identity.Config{
		MinOverlap:      c.Identity.MinOverlap,
		MaxCenterShift:  c.Identity.MaxCenterShift,
		RetentionWindow: c.Identity.RetentionWindow,
	}
}

func (c *Config) PerceptionConfig() perception.Config {
	return perception.Config{
		Interval:     c.Perception.Interval,
		FrameTimeout: c.Perception.FrameTimeout,
	}
}

func (c *Config) PanTiltConfig() pantilt.Config {
	return pantilt.Config{
		Interval:   c.PanTilt.Interval,
		Tolerance:  c.PanTilt.Tolerance,
		Horizontal: c.PanTilt.Horizontal.axis("horizontal"),
		Vertical:   c.PanTilt.Vertical.axis("vertical"),
	}
}

func (c *Config) EyesConfig() display.Config {
	return display.Config{
		RevertAfter:   c.Eyes.RevertAfter,
		BlinkDuration: c.Eyes.BlinkDuration,
		BlinkInterval: c.Eyes.BlinkInterval,
	}
}

func (c *Config) EarsConfig() ears.Config {
	return ears.Config{
		MinConfidence: c.Ears.MinConfidence,
		RetryDelay:    c.Ears.RetryDelay,
	}
}

func (c *Config) SpeechConfig() speech.Config {
	sc := speech.DefaultConfig()
	sc.APIKey = c.Speech.APIKey
	sc.Model = c.Speech.Model
	sc.Language = c.Speech.Language
	return sc
}

// VoiceOptions returns the synthesizer options.
func (c *Config) VoiceOptions() []voice.Option {
	return []voice.Option{
		voice.WithAPIKey(c.Voice.APIKey),
		voice.WithVoice(c.Voice.Voice),
		voice.WithModel(c.Voice.Model),
		voice.WithSpeed(c.Voice.Speed),
	}
}

func (c *Config) RTPConfig() voice.RTPConfig {
	rc := voice.DefaultRTPConfig()
	rc.Addr = c.Voice.RTPAddr
	return rc
}

func (c *Config) FaceConfig() face.Config {
	fc := face.DefaultConfig()
	fc.Endpoint = c.Face.Endpoint
	fc.Key = c.Face.Key
	fc.GroupID = c.Face.GroupID
	fc.GroupName = c.Face.GroupName
	fc.GroupMembers = c.Face.Members
	return fc
}

func (c *Config) EmotionConfig() emotion.Config {
	ec := emotion.DefaultConfig()
	ec.APIKey = c.Emotion.APIKey
	ec.Endpoint = c.Emotion.Endpoint
	return ec
}

func (c *Config) LUISConfig() intent.LUISConfig {
	lc := intent.DefaultLUISConfig()
	lc.Endpoint = c.LUIS.Endpoint
	lc.AppID = c.LUIS.AppID
	lc.Key = c.LUIS.Key
	return lc
}

func (c *Config) ProfileConfig() profile.Config {
	pc := profile.DefaultConfig()
	pc.BaseURL = c.Profile.BaseURL
	pc.IntentBase = c.Profile.IntentBase
	return pc
}

func (c *Config) UpstreamConfig() upstream.Config {
	uc := upstream.DefaultConfig()
	uc.BaseURL = c.Upstream.BaseURL
	uc.QueueSize = c.Upstream.QueueSize
	return uc
}

func (c *Config) WebConfig() web.Config {
	wc := web.DefaultConfig()
	wc.Addr = c.Web.Addr
	wc.AllowOrigins = c.Web.AllowOrigins
	return wc
}
