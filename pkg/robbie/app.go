// Package robbie wires Robbie's components together and runs them.
//
// Hardware handles and cloud clients are created once in Init and injected
// into the components that use them. Run starts every loop under one
// errgroup; the first loop to fail stops the others.
package robbie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-robbie/internal/config"
	"github.com/teslashibe/go-robbie/internal/log"
	"github.com/teslashibe/go-robbie/pkg/brain"
	"github.com/teslashibe/go-robbie/pkg/camera"
	"github.com/teslashibe/go-robbie/pkg/device"
	"github.com/teslashibe/go-robbie/pkg/display"
	"github.com/teslashibe/go-robbie/pkg/ears"
	"github.com/teslashibe/go-robbie/pkg/emotion"
	"github.com/teslashibe/go-robbie/pkg/eventlog"
	"github.com/teslashibe/go-robbie/pkg/face"
	"github.com/teslashibe/go-robbie/pkg/hub"
	"github.com/teslashibe/go-robbie/pkg/identity"
	"github.com/teslashibe/go-robbie/pkg/intent"
	"github.com/teslashibe/go-robbie/pkg/observe"
	"github.com/teslashibe/go-robbie/pkg/pantilt"
	"github.com/teslashibe/go-robbie/pkg/perception"
	"github.com/teslashibe/go-robbie/pkg/profile"
	"github.com/teslashibe/go-robbie/pkg/speech"
	"github.com/teslashibe/go-robbie/pkg/upstream"
	"github.com/teslashibe/go-robbie/pkg/voice"
	"github.com/teslashibe/go-robbie/pkg/web"
)

// Version is reported as the service version of the metrics resource.
var Version = "dev"

// runner is a component with its own loop.
type runner interface {
	Run(ctx context.Context) error
}

// App owns every component and their lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Injected replacements for hardware and cloud services.
	device     device.Controller
	source     perception.FrameSource
	tracker    perception.FaceTracker
	recognizer ears.Recognizer
	synth      voice.Synthesizer
	sink       voice.Sink

	provider *observe.Provider
	metrics  *observe.Metrics

	frames     *sizedSource
	camera     *camera.Manager
	ids        *identity.Interpolator
	eyes       *display.Eyes
	panTilt    *pantilt.PanTilt
	loop       *perception.Loop
	faces      *face.Client
	coord      *face.Coordinator
	ears       *ears.Ears
	voice      *voice.Voice
	brain      *brain.Brain
	reporter   *upstream.Reporter
	events     *eventlog.Store
	vision     *hub.Hub
	web        *web.Server
	closers    []func() error
	shutdownCh chan struct{}
	stopping   atomic.Bool
}

// Option configures an App.
type Option func(*App)

// WithDevice replaces the device daemon client.
func WithDevice(d device.Controller) Option {
	return func(a *App) { a.device = d }
}

// WithFrameSource replaces the configured camera. A source with a
// Run(ctx) error method is run with the other loops.
func WithFrameSource(s perception.FrameSource) Option {
	return func(a *App) { a.source = s }
}

// WithFaceTracker replaces the YuNet tracker.
func WithFaceTracker(t perception.FaceTracker) Option {
	return func(a *App) { a.tracker = t }
}

// WithRecognizer replaces the streaming speech recognizer.
func WithRecognizer(r ears.Recognizer) Option {
	return func(a *App) { a.recognizer = r }
}

// WithVoice replaces the speech synthesizer and the speaker sink. A nil
// value keeps the configured one.
func WithVoice(s voice.Synthesizer, sink voice.Sink) Option {
	return func(a *App) {
		a.synth = s
		a.sink = sink
	}
}

// New creates an App. Call Init before Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		cfg:        cfg,
		logger:     log.Component("robbie"),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init creates the components. Cloud services without credentials are
// left out with a warning; the speech recognizer and synthesizer are
// required.
func (a *App) Init(ctx context.Context) error {
	a.logger.Info("starting Robbie", "version", Version, "host", a.cfg.Host, "camera", a.cfg.Camera.Source)

	if err := a.initMetrics(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if a.device == nil {
		a.device = device.NewHTTPController(a.cfg.Host)
	}
	a.eyes = display.New(a.cfg.EyesConfig(), a.device)
	a.ids = identity.New(a.cfg.IdentityConfig())

	if err := a.initVision(); err != nil {
		return err
	}
	if err := a.initEvents(); err != nil {
		return err
	}
	if err := a.initVoice(); err != nil {
		return err
	}
	a.initFaces(ctx)

	if err := a.initBrain(); err != nil {
		return err
	}
	a.initWeb()
	return nil
}

func (a *App) initMetrics() error {
	p, err := observe.InitProvider("robbie", Version)
	if err != nil {
		return err
	}
	a.provider = p
	a.metrics = p.Metrics
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return p.Shutdown(ctx)
	})
	return nil
}

// initVision builds the camera, the perception loop and the servo loop.
func (a *App) initVision() error {
	src := a.source
	if src == nil {
		switch a.cfg.Camera.Source {
		case config.SourceWebRTC:
			src = camera.NewWebRTCSource(a.cfg.WebRTCConfig(), nil)
		default:
			local, err := camera.NewLocalSource(a.cfg.Camera.Local)
			if err != nil {
				return fmt.Errorf("camera: %w", err)
			}
			a.camera = camera.NewManager(a.cfg.Camera.Local)
			a.camera.OnConfigChange = local.Reconfigure
			src = local
		}
	}
	a.frames = &sizedSource{FrameSource: src}

	if a.tracker == nil {
		t, err := face.NewYuNetTracker(a.cfg.YuNetConfig())
		if err != nil {
			return fmt.Errorf("face tracker: %w", err)
		}
		a.tracker = t
		a.closers = append(a.closers, t.Close)
	}

	pt, err := pantilt.New(a.cfg.PanTiltConfig(), a.device, a.frames.Size, pantilt.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.panTilt = pt

	a.vision = hub.New("vision", hub.WithReplay())
	a.loop = perception.NewLoop(a.cfg.PerceptionConfig(), a.frames, a.tracker, a.ids,
		perception.WithFocusSink(a.panTilt),
		perception.WithVisualizer(web.NewOverlay(a.vision)),
		perception.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) initEvents() error {
	a.reporter = upstream.New(a.cfg.UpstreamConfig())
	if a.cfg.EventLog.Path == "" {
		return nil
	}
	store, err := eventlog.Open(a.cfg.EventLog.Path, a.cfg.EventLog.Retain)
	if err != nil {
		return err
	}
	a.events = store
	a.closers = append(a.closers, store.Close)
	a.reporter.Subscribe(store.Record)
	return nil
}

func (a *App) initVoice() error {
	rec := a.recognizer
	if rec == nil {
		sc := a.cfg.SpeechConfig()
		rec = speech.New(sc, speech.NewArecord(a.cfg.Speech.Microphone, sc.SampleRate))
	}
	a.ears = ears.New(a.cfg.EarsConfig(), rec, ears.WithMetrics(a.metrics))

	synth := a.synth
	if synth == nil {
		s, err := voice.NewOpenAI(a.cfg.VoiceOptions()...)
		if err != nil {
			return fmt.Errorf("voice: %w", err)
		}
		synth = s
	}
	sink := a.sink
	if sink == nil {
		if a.cfg.Voice.Enabled {
			rtp, err := voice.NewRTPSink(a.cfg.RTPConfig())
			if err != nil {
				return fmt.Errorf("voice: %w", err)
			}
			a.closers = append(a.closers, rtp.Close)
			sink = rtp
		} else {
			sink = voice.DiscardSink{}
		}
	}
	a.voice = voice.New(synth, sink)
	a.closers = append(a.closers, a.voice.Close)
	return nil
}

// initFaces sets up cloud recognition. Without a face service key Robbie
// still tracks faces but never identifies them.
func (a *App) initFaces(ctx context.Context) {
	client, err := face.NewClient(a.cfg.FaceConfig())
	if err != nil {
		a.logger.Warn("face recognition disabled", "error", err)
		return
	}
	if err := client.EnsureGroup(ctx); err != nil {
		a.logger.Warn("person group setup failed", "error", err)
	}
	a.faces = client

	opts := []face.CoordinatorOption{
		face.WithMetrics(a.metrics),
		face.WithSleepCheck(func() bool { return a.brain.Sleeping() }),
	}
	if a.cfg.Emotion.Enabled {
		ec, err := emotion.NewVisionClient(ctx, a.cfg.EmotionConfig())
		if err != nil {
			a.logger.Warn("emotion detection disabled", "error", err)
		} else {
			opts = append(opts, face.WithEmotions(ec))
		}
	}
	a.coord = face.NewCoordinator(face.DefaultCoordinatorConfig(), a.frames, client, a.ids, opts...)
	a.ids.OnLargestFaceChanged(a.coord.LargestFaceChanged)
}

func (a *App) initBrain() error {
	var fallback intent.Predictor
	lc := a.cfg.LUISConfig()
	if err := lc.Validate(); err != nil {
		a.logger.Warn("intent prediction limited to built-in commands", "error", err)
	} else {
		p, err := intent.NewHTTPPredictor(lc)
		if err != nil {
			return fmt.Errorf("intent: %w", err)
		}
		fallback = p
	}

	deps := brain.Deps{
		Sessions:   brain.PoolSessions(profile.NewPool(a.cfg.ProfileConfig())),
		Predictor:  intent.NewCommandPredictor(fallback),
		Handler:    intent.NewHandler(a.cfg.LUIS.Threshold),
		Ears:       a.ears,
		Voice:      a.voice,
		Eyes:       a.eyes,
		Frames:     a.frames,
		Identities: a.ids,
		Events:     a.reporter,
	}
	if a.faces != nil {
		deps.Faces = a.faces
	}
	b, err := brain.New(deps, brain.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.brain = b

	a.voice.OnFinishedPlayback(b.OnFinishedSpeaking)
	if a.coord != nil {
		a.coord.OnDominantChanged(b.OnDominantIdentityChanged)
	}
	b.OnShutdown(func() {
		a.logger.Info("shut down requested")
		if a.stopping.CompareAndSwap(false, true) {
			close(a.shutdownCh)
		}
	})
	b.OnSleepChanged(a.panTilt.SetPaused)
	a.ears.OnStateChanged(func(s ears.State) {
		a.reporter.Report("ears", fmt.Sprintf("state to '%s'", s))
	})
	return nil
}

func (a *App) initWeb() {
	if a.cfg.Web.Addr == "" {
		return
	}
	src := web.Sources{
		Brain:      a.brain,
		Ears:       a.ears,
		Eyes:       a.eyes,
		PanTilt:    a.panTilt,
		Perception: a.loop,
		Identities: a.ids,
		Vision:     a.vision,
		SessionID:  a.reporter.SessionID(),
		Metrics:    a.provider.Handler(),
	}
	if a.events != nil {
		src.Events = a.events
	}
	if a.camera != nil {
		src.Camera = a.camera
	}
	a.web = web.New(a.cfg.WebConfig(), src)
	a.reporter.Subscribe(a.web.PublishEvent)
}

// Run starts listening and every loop, and blocks until ctx is cancelled,
// a loop fails or the "shut down" command is heard. A shutdown by command
// or cancellation returns nil.
func (a *App) Run(ctx context.Context) error {
	if a.brain == nil {
		return ErrNotInitialized
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	a.ears.OnUtterance(func(text string) {
		if err := a.brain.OnUtteranceRecognized(gctx, text); err != nil {
			a.logger.Error("utterance handling failed", "text", text, "error", err)
			a.reporter.Report("error", err.Error())
		}
	})
	if err := a.ears.Init(gctx); err != nil {
		return fmt.Errorf("ears: %w", err)
	}

	loops := []runner{a.reporter, a.eyes, a.panTilt, a.loop}
	if r, ok := a.frames.FrameSource.(runner); ok {
		loops = append(loops, r)
	}
	if a.coord != nil {
		loops = append(loops, a.coord)
	}
	if a.web != nil {
		loops = append(loops, a.web)
	} else {
		loops = append(loops, a.vision)
	}
	for _, l := range loops {
		g.Go(func() error { return l.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.shutdownCh:
			cancel()
		}
		return nil
	})

	a.brain.Hibernate()
	a.logger.Info("Robbie is running", "session", a.reporter.SessionID())

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown releases the devices and flushes the metrics.
func (a *App) Shutdown() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Brain returns the interaction state machine.
func (a *App) Brain() *brain.Brain { return a.brain }

// Events returns the local event log, or nil when disabled.
func (a *App) Events() *eventlog.Store { return a.events }

// SessionID returns the upstream session id of this process.
func (a *App) SessionID() string { return a.reporter.SessionID() }
