package main

import (
	"context"
	"fmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tarm/serial"
	"hemtjan.st/han/config"
	"hemtjan.st/han/han"
	"hemtjan.st/han/meter"
	"hemtjan.st/han/mqttsink"
	"io"
	"lib.hemtjan.st/client"
	"lib.hemtjan.st/device"
	"lib.hemtjan.st/transport/mqtt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	rootCmd = &cobra.Command{
		Use:          "han",
		Short:        "Read AMS HAN port electricity meters",
		Long:         "han decodes the data pushed by Norwegian AMS meters on their HAN port and publishes it to hemtjanst.",
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Read frames from the meter and publish them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	configFile string
	dryRun     bool

	mqttFlags = pflag.NewFlagSet("mqtt", pflag.ContinueOnError)
	mqFlags   = mqtt.MustFlags(mqttFlags.String, mqttFlags.Bool)
)

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML configuration file")
	flags.String("device", "", "Serial device (default /dev/ttyUSB0)")
	flags.Int("speed", 0, "Baud rate of serial port (default 2400)")
	flags.String("input", "", "Read a capture file instead of the serial device")
	flags.BoolVar(&dryRun, "dry-run", false, "Log fields instead of publishing them")
	flags.Bool("short-frame-own-slot", false, "Publish power from list 1 frames as its own feature")
	flags.String("topic", "", "Topic of hemtjanst device (default powerMeter/house)")
	flags.String("name", "", "Name of hemtjanst device (default House Power Meter)")
	flags.AddFlagSet(mqttFlags)

	rootCmd.AddCommand(runCmd, analyzeCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

// loadConfig reads the config file, if any, and applies the flags that
// were set on the command line.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Serial.Device, _ = flags.GetString("device")
	}
	if flags.Changed("speed") {
		cfg.Serial.Speed, _ = flags.GetInt("speed")
	}
	if flags.Changed("input") {
		cfg.Serial.Input, _ = flags.GetString("input")
	}
	if flags.Changed("short-frame-own-slot") {
		cfg.Dispatch.ShortFrameOwnSlot, _ = flags.GetBool("short-frame-own-slot")
	}
	if flags.Changed("topic") {
		cfg.MQTT.Topic, _ = flags.GetString("topic")
	}
	if flags.Changed("name") {
		cfg.MQTT.Name, _ = flags.GetString("name")
	}
	if dryRun {
		cfg.MQTT.Disable = true
	}
	if cfg.Serial.Speed <= 0 {
		return cfg, fmt.Errorf("speed must be > 0")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	cfg.Log.Logger(logrus.StandardLogger())
	log := logrus.WithField("component", "pipeline")

	var sink meter.Sink = meter.LogSink{Log: log, Level: logrus.DebugLevel}
	if cfg.MQTT.Disable {
		sink = meter.LogSink{Log: log}
	} else {
		ms, err := connectMQTT(ctx, cfg.MQTT)
		if err != nil {
			return err
		}
		sink = meter.Tee{sink, ms}
	}

	in, err := openInput(cfg.Serial)
	if err != nil {
		return err
	}
	defer in.Close()
	go func() {
		// Unblocks the read in progress
		<-ctx.Done()
		_ = in.Close()
	}()

	p := han.NewPipeline(sink, han.Config{
		Dispatch: meter.Config{ShortFrameOwnSlot: cfg.Dispatch.ShortFrameOwnSlot},
		MaxDepth: cfg.Decoder.MaxDepth,
		Log:      log,
	})
	r := han.NewReader(in,
		han.WithFrameTimeout(cfg.Decoder.FrameTimeout),
		han.WithMaxFrameLength(cfg.Decoder.MaxFrameLength),
	)

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(cfg.Log.StatsInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				log.WithFields(p.Stats().LogFields()).Info("Statistics")
			case <-done:
				return
			}
		}
	}()

	err = p.Run(ctx, r)
	log.WithFields(p.Stats().LogFields()).Info("Statistics")
	if ctx.Err() != nil {
		// Closing the input on shutdown makes the last read fail
		return nil
	}
	if err == nil {
		log.Info("EOF from input, exiting")
	}
	return err
}

func openInput(cfg config.SerialConfig) (io.ReadCloser, error) {
	if cfg.Input != "" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", cfg.Input, err)
		}
		return f, nil
	}

	parity := serial.ParityEven
	switch cfg.Parity {
	case "none":
		parity = serial.ParityNone
	case "odd":
		parity = serial.ParityOdd
	}
	s, err := serial.OpenPort(&serial.Config{
		Name:   cfg.Device,
		Baud:   cfg.Speed,
		Parity: parity,
		Size:   8,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Device, err)
	}
	return s, nil
}

func connectMQTT(ctx context.Context, cfg config.MQTTConfig) (*mqttsink.Sink, error) {
	log := logrus.WithField("component", "mqtt")
	mq, err := mqtt.New(ctx, mqFlags())
	if err != nil {
		return nil, fmt.Errorf("connecting to mqtt: %w", err)
	}

	// Spawn a goroutine to detect MQTT errors and handle reconnect
	go func() {
		for {
			ok, err := mq.Start()
			if err != nil {
				log.WithError(err).Error("MQTT error")
			}
			if !ok {
				log.Fatal("MQTT gave up")
			}
			time.Sleep(3 * time.Second)
			log.Info("Reconnecting")
		}
	}()

	create := func(info *device.Info) (mqttsink.Device, error) {
		d, err := client.NewDevice(info, mq)
		if err != nil {
			return nil, err
		}
		return mqttsink.Wrap(d), nil
	}
	return mqttsink.New(create, mqttsink.Config{
		Topic:        cfg.Topic,
		Name:         cfg.Name,
		Manufacturer: cfg.Manufacturer,
		SerialNumber: cfg.SerialNumber,
	}, log), nil
}
