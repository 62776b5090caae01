package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-robbie/pkg/pantilt"
)

// Load reads the YAML file at path over the defaults, applies the
// environment and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults, applies the
// environment and validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables. Credentials set here override the file.
const (
	EnvHost          = "ROBBIE_HOST"
	EnvLogLevel      = "ROBBIE_LOG_LEVEL"
	EnvWebAddr       = "ROBBIE_WEB_ADDR"
	EnvUpstreamURL   = "ROBBIE_UPSTREAM_URL"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvFaceKey       = "FACE_API_KEY"
	EnvGoogleKey     = "GOOGLE_API_KEY"
	EnvLUISAppID     = "LUIS_APP_ID"
	EnvLUISKey       = "LUIS_APP_KEY"
	envGroupMembers  = "ROBBIE_FACE_MEMBERS"
	envCameraSource  = "ROBBIE_CAMERA"
	envEventLogPath  = "ROBBIE_EVENTLOG"
	envMicrophoneDev = "ROBBIE_MICROPHONE"
)

// ApplyEnv overrides settings from the environment. The OpenAI key is used
// for both speech recognition and synthesis unless either is set in the
// file.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}

	set(&c.Host, EnvHost)
	set(&c.LogLevel, EnvLogLevel)
	set(&c.Web.Addr, EnvWebAddr)
	set(&c.Upstream.BaseURL, EnvUpstreamURL)
	set(&c.Face.Members, envGroupMembers)
	set(&c.Camera.Source, envCameraSource)
	set(&c.EventLog.Path, envEventLogPath)
	set(&c.Speech.Microphone, envMicrophoneDev)

	fill(&c.Speech.APIKey, EnvOpenAIKey)
	fill(&c.Voice.APIKey, EnvOpenAIKey)
	fill(&c.Face.Key, EnvFaceKey)
	fill(&c.Emotion.APIKey, EnvGoogleKey)
	fill(&c.LUIS.AppID, EnvLUISAppID)
	fill(&c.LUIS.Key, EnvLUISKey)
}

// Validate checks the values that would otherwise fail deep inside a
// component. Missing credentials are not errors: the affected component
// reports them when it starts. It returns all problems joined.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}

	switch c.Camera.Source {
	case SourceLocal:
		local := c.Camera.Local
		for _, p := range local.Validate() {
			errs = append(errs, fmt.Errorf("camera.local: %s", p))
		}
	case SourceWebRTC:
		if c.Host == "" && c.Camera.SignallingURL == "" {
			errs = append(errs, errors.New("camera: webrtc source needs host or signalling_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("camera.source %q is invalid; valid values: %s, %s", c.Camera.Source, SourceLocal, SourceWebRTC))
	}

	if c.Tracker.ModelPath == "" {
		errs = append(errs, errors.New("tracker.model_path is required"))
	}

	if c.Identity.MinOverlap <= 0 || c.Identity.MinOverlap > 1 {
		errs = append(errs, fmt.Errorf("identity.min_overlap %v must be in (0,1]", c.Identity.MinOverlap))
	}
	if c.Identity.MaxCenterShift < 0 {
		errs = append(errs, errors.New("identity.max_center_shift must be >= 0"))
	}
	if c.Identity.RetentionWindow < 0 {
		errs = append(errs, errors.New("identity.retention_window must be >= 0"))
	}

	if c.Perception.Interval <= 0 {
		errs = append(errs, errors.New("perception.interval must be positive"))
	}

	if c.PanTilt.Interval <= 0 {
		errs = append(errs, errors.New("pantilt.interval must be positive"))
	}
	if c.PanTilt.Tolerance < 0 {
		errs = append(errs, errors.New("pantilt.tolerance must be >= 0"))
	}
	for _, a := range []pantilt.AxisConfig{
		c.PanTilt.Horizontal.axis("horizontal"),
		c.PanTilt.Vertical.axis("vertical"),
	} {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Eyes.BlinkInterval <= 0 || c.Eyes.RevertAfter <= 0 {
		errs = append(errs, errors.New("eyes: blink_interval and revert_after must be positive"))
	}

	if c.Ears.MinConfidence < 0 || c.Ears.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("ears.min_confidence %v must be in [0,1]", c.Ears.MinConfidence))
	}

	if c.Voice.Speed < 0.25 || c.Voice.Speed > 4 {
		errs = append(errs, fmt.Errorf("voice.speed %v must be in [0.25,4]", c.Voice.Speed))
	}

	if c.LUIS.Threshold < 0 || c.LUIS.Threshold > 1 {
		errs = append(errs, fmt.Errorf("luis.threshold %v must be in [0,1]", c.LUIS.Threshold))
	}

	if c.Profile.BaseURL == "" {
		errs = append(errs, errors.New("profile.base_url is required"))
	}

	if c.Upstream.QueueSize <= 0 {
		errs = append(errs, errors.New("upstream.queue_size must be positive"))
	}
	if c.EventLog.Path != "" && c.EventLog.Retain <= 0 {
		errs = append(errs, errors.New("eventlog.retain must be positive"))
	}

	return errors.Join(errs...)
}
