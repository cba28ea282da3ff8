package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"smilecam/internal/capture"
	"smilecam/internal/config"
	"smilecam/internal/detect"
	"smilecam/internal/emitter"
	"smilecam/internal/events"
	"smilecam/internal/logging"
	"smilecam/internal/metrics"
	"smilecam/internal/notify"
	"smilecam/internal/opencv"
	"smilecam/internal/server"
)

const metricsEvery = 30 * time.Second

type serveOptions struct {
	ConfigPath  string
	Port        int
	Device      int
	Debug       bool
	DebugFPS    float64
	LogFile     string
	LogStderr   bool
	NotifyURL   string
	JournalDir  string
	ZMQEndpoint string
	MQTTBroker  string
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the annotated camera stream over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveOpts.ConfigPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg, serveOpts)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return runServe(cmd.Context(), cfg, serveOpts.LogStderr)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveOpts.ConfigPath, "config", "c", config.DefaultPath, "YAML config file (missing file keeps defaults)")
	f.IntVarP(&serveOpts.Port, "port", "p", 5000, "HTTP port")
	f.IntVarP(&serveOpts.Device, "device", "d", 0, "Camera device index")
	f.BoolVar(&serveOpts.Debug, "debug", false, "Use the synthetic frame source instead of a camera")
	f.Float64Var(&serveOpts.DebugFPS, "debug-fps", 10, "Synthetic frame rate")
	f.StringVar(&serveOpts.LogFile, "log-file", config.DefaultLogFile, "Append-only log file")
	f.BoolVar(&serveOpts.LogStderr, "log-stderr", false, "Also write log lines to stderr")
	f.StringVar(&serveOpts.NotifyURL, "notify-url", config.DefaultNotifyURL, "Notification endpoint")
	f.StringVar(&serveOpts.JournalDir, "journal-dir", "", "Write a CBOR event journal into this directory")
	f.StringVar(&serveOpts.ZMQEndpoint, "zmq-endpoint", "", "Publish events on a ZMQ PUB socket bound here (e.g. tcp://*:5556)")
	f.StringVar(&serveOpts.MQTTBroker, "mqtt-broker", "", "Publish events to this MQTT broker (host:port)")
	rootCmd.AddCommand(serveCmd)
}

// applyFlags copies explicitly set flags over the file configuration.
func applyFlags(cmd *cobra.Command, cfg *config.AppConfig, opts serveOptions) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port = opts.Port
	}
	if f.Changed("device") {
		cfg.Camera.Device = opts.Device
	}
	if f.Changed("debug") {
		cfg.Debug = opts.Debug
	}
	if f.Changed("debug-fps") {
		cfg.DebugFPS = opts.DebugFPS
	}
	if f.Changed("log-file") {
		cfg.LogFile = opts.LogFile
	}
	if f.Changed("notify-url") {
		cfg.Notify.URL = opts.NotifyURL
	}
	if f.Changed("journal-dir") {
		cfg.Events.JournalDir = opts.JournalDir
	}
	if f.Changed("zmq-endpoint") {
		cfg.ZMQ.Endpoint = opts.ZMQEndpoint
	}
	if f.Changed("mqtt-broker") {
		cfg.MQTT.Broker = opts.MQTTBroker
	}
}

func runServe(ctx context.Context, cfg config.AppConfig, logStderr bool) error {
	logger, logFile, err := logging.Setup(cfg.LogFile, cfg.LogDebug, logStderr)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	faces, err := opencv.LoadCascade(cfg.Cascades.Face)
	if err != nil {
		return err
	}
	defer faces.Close()
	smiles, err := opencv.LoadCascade(cfg.Cascades.Smile)
	if err != nil {
		return err
	}
	defer smiles.Close()

	m := &metrics.Counters{}
	notifier := notify.NewClient(notify.Config{
		URL:           cfg.Notify.URL,
		Title:         cfg.Notify.Title,
		UserID:        cfg.Notify.UserID,
		SuccessStatus: cfg.Notify.SuccessStatus,
		Timeout:       cfg.Notify.Timeout,
	}, logger, m)
	dispatcher := events.NewDispatcher(cfg.Events.QueueSize, logger, m, notifier)

	closers, mqttEmitter, err := registerEmitters(ctx, cfg, logger, dispatcher)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn().Err(err).Msg("close event sink")
			}
		}
	}()
	if err != nil {
		return err
	}
	if mqttEmitter != nil {
		defer mqttEmitter.Disconnect()
	}

	detector := detect.New(faces, smiles, detect.Options{
		Face:   passParams(cfg.Detection.Face),
		Smile:  passParams(cfg.Detection.Smile),
		Labels: cfg.Detection.Labels,
	}, logger, dispatcher, m)

	srv := server.New(server.Options{
		Config:    cfg,
		Open:      frameOpener(cfg),
		Processor: detector,
		Metrics:   m,
		Log:       logger,
		StatusFn: func() map[string]any {
			status := map[string]any{"zmq_endpoint": cfg.ZMQ.Endpoint}
			if mqttEmitter != nil {
				status["mqtt"] = mqttEmitter.Stats()
			}
			return status
		},
	})
	dispatcher.Register(srv.EventSink())

	logger.Info().
		Int("port", cfg.Port).
		Int("device", cfg.Camera.Device).
		Bool("debug", cfg.Debug).
		Str("face_cascade", faces.Path()).
		Str("smile_cascade", smiles.Path()).
		Msg("smilecam starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		m.LogEvery(gctx, logger, metricsEvery)
		return nil
	})
	err = g.Wait()
	logger.Info().Interface("metrics", m.Snapshot()).Msg("smilecam stopped")
	return err
}

// registerEmitters adds the optional journal, ZMQ and MQTT sinks. The
// returned closers are valid even when err is set.
func registerEmitters(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger, d *events.Dispatcher) ([]io.Closer, *emitter.MQTTEmitter, error) {
	var closers []io.Closer
	if cfg.Events.JournalDir != "" {
		journal, err := events.OpenJournal(cfg.Events.JournalDir, "events")
		if err != nil {
			return closers, nil, fmt.Errorf("open event journal: %w", err)
		}
		closers = append(closers, journal)
		d.Register(journal)
		logger.Info().Str("path", journal.Path()).Msg("event journal enabled")
	}
	if cfg.ZMQ.Endpoint != "" {
		pub, err := emitter.NewZMQPublisher(cfg.ZMQ.Endpoint)
		if err != nil {
			return closers, nil, fmt.Errorf("bind zmq publisher: %w", err)
		}
		closers = append(closers, pub)
		d.Register(pub)
		logger.Info().Str("endpoint", pub.Endpoint()).Msg("zmq event publisher enabled")
	}
	if cfg.MQTT.Broker == "" {
		return closers, nil, nil
	}
	mqttEmitter := emitter.NewMQTTEmitter(emitter.MQTTConfig{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topic:    cfg.MQTT.Topic,
		QoS:      cfg.MQTT.QoS,
	}, logger)
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mqttEmitter.Connect(connectCtx); err != nil {
		// The client keeps retrying; events fail until it connects.
		logger.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt not connected yet")
	}
	d.Register(mqttEmitter)
	return closers, mqttEmitter, nil
}

func frameOpener(cfg config.AppConfig) capture.Opener {
	if !cfg.Debug {
		return opencv.CameraOpener(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height)
	}
	width, height := cfg.Camera.Width, cfg.Camera.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	return func() (capture.Source, error) {
		return capture.NewSimulator(width, height, cfg.DebugFPS, 0), nil
	}
}

func passParams(p config.PassConfig) detect.Params {
	return detect.Params{
		ScaleFactor:  p.ScaleFactor,
		MinNeighbors: p.MinNeighbors,
		MinSize:      image.Pt(p.MinSize, p.MinSize),
	}
}
