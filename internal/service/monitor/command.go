package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	ps "github.com/mitchellh/go-ps"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/oshokin/drowsy-alarm/internal/api/grpc/liveness"
	"github.com/oshokin/drowsy-alarm/internal/audio"
	"github.com/oshokin/drowsy-alarm/internal/config"
	"github.com/oshokin/drowsy-alarm/internal/domain/drowsiness"
	"github.com/oshokin/drowsy-alarm/internal/events"
	"github.com/oshokin/drowsy-alarm/internal/logger"
	"github.com/oshokin/drowsy-alarm/internal/repository/journal"
	alarmsvc "github.com/oshokin/drowsy-alarm/internal/service/alarm"
	"github.com/oshokin/drowsy-alarm/internal/service/common"
	"github.com/oshokin/drowsy-alarm/internal/service/pipeline"
	"github.com/oshokin/drowsy-alarm/internal/status"
	"github.com/oshokin/drowsy-alarm/internal/version"
	"github.com/oshokin/drowsy-alarm/internal/vision"
)

// Options controls the drowsy-monitor process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Device overrides the camera device from the settings.
	Device string
	// Headless disables the preview window.
	Headless bool
	// Debug lowers the log level and logs every phase change.
	Debug bool
}

// shutdownTimeout bounds the flush of pending events on exit.
const shutdownTimeout = 5 * time.Second

// deps are the process-level collaborators replaced in tests.
type deps struct {
	openVision func(vision.Options) (*vision.Stack, error)
	newSink    func(backend string) (audio.Sink, error)
	processes  processLister
	executable string
	pid        int
}

// Run starts the monitor and blocks until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	return run(ctx, opts, deps{
		openVision: vision.Open,
		newSink:    newAudioSink,
		processes:  ps.Processes,
		executable: currentExecutable(),
		pid:        os.Getpid(),
	})
}

//nolint:cyclop,funlen // Linear wiring of the process; splitting hides the shutdown order.
func run(ctx context.Context, opts *Options, d deps) error {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(settings, opts)
	configureLogging(settings.Logging)

	defer logger.Sync()

	ctx = logger.WithName(ctx, "drowsy-monitor")

	logger.InfoKV(ctx, "Starting drowsiness monitor",
		"version", version.Short(),
		"device", settings.Camera.Device,
		"hold", settings.Monitor.Hold.String(),
		"display", settings.Display.Enabled,
	)

	if err = ensureSingleInstance(ctx, d.processes, d.executable, d.pid); err != nil {
		return err
	}

	stack, err := d.openVision(vision.Options{
		Device:       settings.Camera.Device,
		Mirror:       settings.Camera.Mirror,
		CascadeFile:  settings.Detection.CascadeFile,
		ScaleFactor:  settings.Detection.ScaleFactor,
		MinNeighbors: settings.Detection.MinNeighbors,
		MinSize:      settings.Detection.MinSize,
		Display:      settings.Display.Enabled,
		WindowTitle:  settings.Display.WindowTitle,
	})
	if err != nil {
		return fmt.Errorf("open vision: %w", err)
	}

	defer func() {
		if closeErr := stack.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Release vision resources failed", "error", closeErr)
		}
	}()

	statusSink := status.Multi{status.NewLogSink(ctx)}
	if stack.Overlay != nil {
		statusSink = append(statusSink, stack.Overlay)
	}

	sink, err := d.newSink(settings.Alarm.Backend)
	if err != nil {
		return fmt.Errorf("create audio sink: %w", err)
	}

	// A broken asset is reported but does not stop detection.
	if asset, probeErr := audio.Probe(settings.Alarm.Asset); probeErr != nil {
		logger.ErrorKV(ctx, "Alarm sound unusable", "asset", settings.Alarm.Asset, "error", probeErr)
		statusSink.SetText(status.TextAlarmErrorPrefix + probeErr.Error())
	} else {
		logger.InfoKV(ctx, "Alarm sound loaded",
			"asset", asset.Path,
			"duration", asset.Duration.String(),
			"sink", sink.Name(),
		)
	}

	dispatcher, redisClient := newDispatcher(ctx, settings)

	controller, err := alarmsvc.NewController(alarmsvc.Options{
		Sink:      sink,
		Asset:     settings.Alarm.Asset,
		Status:    statusSink,
		Observers: []alarmsvc.Observer{dispatcher},
	})
	if err != nil {
		return fmt.Errorf("create alarm controller: %w", err)
	}

	p, err := pipeline.New(pipeline.Options{
		Source:    stack.Source,
		Converter: stack.Converter,
		Detector:  stack.Detector,
		Estimator: drowsiness.Estimator{Threshold: settings.Detection.OpenRatio},
		Monitor:   drowsiness.NewMonitor(settings.Monitor.Hold),
		Alarm:     controller,
		Annotator: stack.Annotator,
		Display:   stack.Display,
		Status:    statusSink,
		Debug:     opts.Debug,
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	health := liveness.NewServer(liveness.WithStaleAfter(max(liveness.DefaultStaleAfter, 10*settings.Monitor.TickInterval)))

	loop, err := pipeline.NewLoop(p, settings.Monitor.TickInterval, health)
	if err != nil {
		return fmt.Errorf("create loop: %w", err)
	}

	stopStatus, err := serveStatus(ctx, settings.Status.ListenAddress, health)
	if err != nil {
		return err
	}

	runErr := loop.Run(ctx)

	// Shutdown order: stop reporting, stop the alarm, flush events.
	stopStatus()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	controller.Close(shutdownCtx)

	if err = dispatcher.Close(shutdownCtx); err != nil {
		logger.WarnKV(ctx, "Pending alarm events were not delivered", "error", err)
	}

	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info(ctx, "Drowsiness monitor stopped")

	return runErr
}

// applyOverrides folds command line flags into the settings.
func applyOverrides(settings *config.Config, opts *Options) {
	if opts.Device != "" {
		settings.Camera.Device = opts.Device
	}

	if opts.Headless {
		settings.Display.Enabled = false
	}

	if opts.Debug {
		settings.Logging.Level = "debug"
	}
}

// configureLogging applies the level and mirrors logs into a rotating file.
func configureLogging(settings config.Logging) {
	if settings.File != "" {
		logger.SetLogger(logger.NewWithFile(nil, logger.FileOptions{Path: settings.File}))
	}

	if level, ok := logger.ParseLogLevel(settings.Level); ok {
		logger.SetLevel(level)
	}
}

// newAudioSink builds the configured playback backend.
//
//nolint:ireturn // The backend is chosen at runtime.
func newAudioSink(backend string) (audio.Sink, error) {
	if backend == config.BackendSpeaker {
		sink, err := audio.NewSpeakerSink()
		if err != nil {
			return nil, err
		}

		return sink, nil
	}

	sink, err := audio.NewCommandSink()
	if err != nil {
		return nil, err
	}

	return sink, nil
}

// newDispatcher wires the event handlers enabled in the settings.
func newDispatcher(ctx context.Context, settings *config.Config) (*events.Dispatcher, *redis.Client) {
	handlers := []events.Handler{events.LogHandler{}}

	if settings.Journal.File != "" {
		handlers = append(handlers, events.NewJournalHandler(journal.NewFileRepository(settings.Journal.File)))
	}

	var redisClient *redis.Client

	if settings.Events.RedisAddress != "" {
		client, err := events.NewRedisClient(ctx, events.RedisOptions{
			Address:  settings.Events.RedisAddress,
			Password: settings.Events.RedisPassword,
			DB:       settings.Events.RedisDB,
			Channel:  settings.Events.Channel,
		})
		if err != nil {
			logger.WarnKV(ctx, "Redis is unreachable, events will be retried per alarm", "error", err)
		}

		redisClient = client
		handlers = append(handlers, events.NewRedisHandler(client, settings.Events.Channel))
	}

	actor, err := common.DetectActor()
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect host identity", "error", err)
	}

	return events.NewDispatcher(ctx, events.DispatcherOptions{
		Handlers: handlers,
		Actor:    actor,
	}), redisClient
}

// serveStatus starts the gRPC health endpoint and its staleness watchdog.
// The returned function stops both and is safe to call once.
func serveStatus(ctx context.Context, address string, health *liveness.Server) (func(), error) {
	if address == "" {
		return health.Shutdown, nil
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	watchCtx, stopWatch := context.WithCancel(ctx)

	go health.Watch(watchCtx)

	served := make(chan struct{})

	go func() {
		defer close(served)

		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			logger.ErrorKV(ctx, "Status endpoint failed", "error", serveErr)
		}
	}()

	logger.InfoKV(ctx, "Status endpoint listening", "listen_address", lis.Addr().String())

	return func() {
		stopWatch()
		health.Shutdown()
		grpcServer.GracefulStop()
		<-served
	}, nil
}
