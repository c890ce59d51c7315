package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/SmartCam/internal/config"
	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/camera"
	"github.com/cjeanneret/SmartCam/internal/hw/gpio"
	"github.com/cjeanneret/SmartCam/internal/hw/trigger"
	"github.com/cjeanneret/SmartCam/internal/logic/analysis"
	"github.com/cjeanneret/SmartCam/internal/logic/capture"
	"github.com/cjeanneret/SmartCam/internal/logic/session"
	"github.com/cjeanneret/SmartCam/internal/storage"
	"github.com/cjeanneret/SmartCam/internal/web"
)

// closeTimeout bounds the camera teardown on exit.
const closeTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// run wires the application and blocks until it exits. Errors are returned
// so that deferred hardware cleanup always runs.
func run(args []string) error {
	// CLI flags
	fs := flag.NewFlagSet("smartcam", flag.ContinueOnError)
	webPort := &webPortFlag{defaultPort: 8080}
	fs.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := fs.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	lens := fs.String("lens", "", "override initial lens (back, front)")
	timer := fs.String("timer", "", "override countdown timer (off, 3s, 10s)")
	flashMode := fs.String("flash", "", "override flash mode (off, auto, on)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	// Empty overrides mean "use config default"
	overrides := cliOverrides{Lens: *lens, Timer: *timer, Flash: *flashMode}
	if err := overrides.validate(); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}
	overrides.apply(cfg)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize GPIO driver
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO failed: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	// Initialize camera
	debug.Step(2, "Initializing camera")
	var fl camera.Flash
	if cfg.Flash.Pin > 0 {
		fl = camera.NewGPIOFlash(gpioDriver, cfg.Flash.Pin, cfg.FlashPulse())
		debug.PrintStruct("Flash config", cfg.Flash)
	}
	dev, err := newDeviceFromConfig(cfg, fl)
	if err != nil {
		return fmt.Errorf("init camera failed: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Camera config", cfg.Camera)
	handle := camera.NewHandle(dev, nil)

	// Build the session
	debug.Step(3, "Creating capture session")
	initial, err := sessionConfigFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	broadcaster := web.NewStatusBroadcaster()
	display := web.NewDisplay(cfg.Display.Width, cfg.Display.Height, initial.Rotation)
	opts := session.Options{
		Config:  initial,
		Capture: &camera.StillCapture{Flash: initial.Flash, Quality: cfg.Camera.JPEGQuality},
	}
	webMode := webPort.port() > 0
	var preview *web.PreviewHub
	if webMode && cfg.Session.Preview {
		preview = web.NewPreviewHub()
		opts.Preview = preview
	}
	if cfg.Session.Analysis {
		opts.Analysis = analysis.NewLuminosity(cfg.AnalysisInterval(), func(r analysis.Reading) {
			debug.Live("Luma %.0f, %.1f fps", r.Luma, r.FPS)
			broadcaster.Publish("luma", fmt.Sprintf("%.0f", r.Luma), r)
		})
	}
	debug.PrintStruct("Session config", cfg.Session)

	ctrl := session.NewController(handle, display, opts)
	go web.RelaySessionEvents(broadcaster, ctrl.Events())

	debug.Step(4, "Binding camera")
	perm := camera.DeviceNodeGate{Nodes: cfg.Camera.DeviceNodes}
	if err := ctrl.Start(ctx, perm); err != nil {
		closeSession(nil, ctrl)
		return fmt.Errorf("start session failed: %w", err)
	}
	debug.Value("Lenses", ctrl.Lenses())

	store := storage.NewStore(cfg.Storage.OutputDir, cfg.Storage.FilenameLayout, cfg.Storage.Extension)
	pipeline := capture.NewPipeline(ctrl, store.NewTarget, cfg.CountdownTick())
	handlers := web.NewHandlers(broadcaster, ctrl, pipeline, display)
	handlers.Cooldown = time.Second

	if cfg.Button.Pin > 0 {
		debug.Step(5, "Watching shutter button")
		btn := trigger.NewButton(gpioDriver, cfg.Button.Pin, cfg.ButtonPoll(), cfg.ButtonDebounce(), func() {
			if err := handlers.StartCountdown(ctrl.Config().Timer); err != nil {
				debug.Info("Shutter button ignored: %v", err)
			}
		})
		go func() {
			if err := btn.Run(ctx); err != nil {
				log.Printf("shutter button: %v", err)
			}
		}()
	}

	if webMode {
		webAddr := fmt.Sprintf(":%d", webPort.port())
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		srv := web.NewServer(webAddr, handlers, preview)
		err := srv.Run(ctx)
		closeSession(pipeline, ctrl)
		if err != nil {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	}

	// Run one capture with the configured timer, then exit
	err = captureOnce(ctx, pipeline, ctrl.Config().Timer)
	closeSession(pipeline, ctrl)
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}
	return nil
}

// captureOnce runs a single countdown capture and logs its progress.
func captureOnce(ctx context.Context, pipeline *capture.Pipeline, timer session.Timer) error {
	debug.Section("Capture")
	debug.Value("Timer", timer)
	events, err := pipeline.StartCapture(ctx, timer)
	if err != nil {
		return err
	}
	for e := range events {
		switch e.Kind {
		case capture.EventTick:
			debug.Tick(e.Remaining)
		case capture.EventCompleted:
			fmt.Println(e.Result.URI)
		case capture.EventFailed:
			return e.Err
		}
	}
	debug.Section("Capture Complete")
	return nil
}

// closeSession tears down in dependency order: the pipeline, then the camera.
func closeSession(pipeline *capture.Pipeline, ctrl *session.Controller) {
	if pipeline != nil {
		pipeline.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := ctrl.Close(ctx); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		log.Printf("closing camera session: %v", err)
	}
}

// cliOverrides holds session settings given on the command line.
type cliOverrides struct {
	Lens  string
	Timer string
	Flash string
}

// validate checks that non-empty overrides parse.
func (o cliOverrides) validate() error {
	if o.Lens != "" {
		if _, err := camera.ParseLensFacing(o.Lens); err != nil {
			return fmt.Errorf("lens: %w", err)
		}
	}
	if o.Timer != "" {
		if _, err := session.ParseTimer(o.Timer); err != nil {
			return fmt.Errorf("timer: %w", err)
		}
	}
	if o.Flash != "" {
		if _, err := camera.ParseFlashMode(o.Flash); err != nil {
			return fmt.Errorf("flash: %w", err)
		}
	}
	return nil
}

// apply mutates cfg with overrides. Only non-empty values are applied.
// Values are stored in canonical form so config validation stays valid.
func (o cliOverrides) apply(cfg *config.Config) {
	if l, err := camera.ParseLensFacing(o.Lens); o.Lens != "" && err == nil {
		cfg.Session.Lens = l.String()
	}
	if t, err := session.ParseTimer(o.Timer); o.Timer != "" && err == nil {
		cfg.Session.Timer = t.String()
	}
	if m, err := camera.ParseFlashMode(o.Flash); o.Flash != "" && err == nil {
		cfg.Session.FlashMode = m.String()
	}
}

// sessionConfigFromConfig builds the initial session configuration.
func sessionConfigFromConfig(cfg *config.Config) (session.SessionConfig, error) {
	lens, err := camera.ParseLensFacing(cfg.Session.Lens)
	if err != nil {
		return session.SessionConfig{}, err
	}
	mode, err := camera.ParseFlashMode(cfg.Session.FlashMode)
	if err != nil {
		return session.SessionConfig{}, err
	}
	t, err := session.ParseTimer(cfg.Session.Timer)
	if err != nil {
		return session.SessionConfig{}, err
	}
	rot, err := camera.ParseRotation(cfg.Display.Rotation)
	if err != nil {
		return session.SessionConfig{}, err
	}
	return session.SessionConfig{Lens: lens, Flash: mode, Timer: t, Rotation: rot}, nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newDeviceFromConfig selects a camera implementation based on configuration.
func newDeviceFromConfig(cfg *config.Config, fl camera.Flash) (camera.Device, error) {
	switch cfg.Camera.Type {
	case "opencv":
		// Needs a binary built with -tags opencv.
		return camera.NewOpenCVDevice(camera.OpenCVOptions{
			BackIndex:      cfg.Camera.BackIndex,
			FrontIndex:     cfg.Camera.FrontIndex,
			LongEdge:       cfg.Camera.LongEdgePx,
			Flash:          fl,
			FlashThreshold: cfg.Flash.AutoLumaThreshold,
		})
	case "virtual":
		return camera.NewVirtualDevice(camera.VirtualOptions{
			Lenses:         []camera.LensFacing{camera.LensBack, camera.LensFront},
			LongEdge:       cfg.Camera.LongEdgePx,
			FrameInterval:  100 * time.Millisecond,
			SceneLuma:      128,
			Flash:          fl,
			FlashThreshold: cfg.Flash.AutoLumaThreshold,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
