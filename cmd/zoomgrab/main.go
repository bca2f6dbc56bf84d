package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValerySidorin/zoomgrab/pkg/session"
	util_log "github.com/ValerySidorin/zoomgrab/pkg/util/log"
	"github.com/ValerySidorin/zoomgrab/pkg/zoomgrab"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v2"
)

func main() {
	fs := flag.NewFlagSet("zoomgrab", flag.ExitOnError)

	logCfg := util_log.Config{}
	logCfg.RegisterFlags(fs)

	var (
		configFile = fs.String("config", "", "Path to the yaml configuration file.")
		url        = fs.String("url", "", "Recording URL.")
		password   = fs.String("password", "", "Recording password, if the recording is gated.")
		outputDir  = fs.String("output-dir", "", "Directory for the downloaded recording.")
		outputFile = fs.String("output-file", "", "Output file name (default: derived from the meeting topic).")
		headful    = fs.Bool("headful", false, "Run the browser with a visible window.")
		assetWait  = fs.Duration("timeout", 0, "Maximum wait for the asset exchange to appear.")
	)

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile)
	util_log.CheckFatal("loading config", err)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.Recording.URL = *url
		case "password":
			cfg.Recording.Password = *password
		case "output-dir":
			cfg.Recording.OutputDir = *outputDir
		case "output-file":
			cfg.Recording.OutputFile = *outputFile
		case "headful":
			cfg.Browser.Headful = *headful
		case "timeout":
			cfg.Session.AssetWait = *assetWait
		}
	})

	if cfg.Recording.OutputDir == "" {
		cfg.Recording.OutputDir = "output"
	}

	util_log.InitLogger(&logCfg)
	logger := util_log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := zoomgrab.New(ctx, *cfg, prometheus.NewPedanticRegistry(), logger)
	util_log.CheckFatal("initializing acquirer", err)

	err = a.StartAsync(ctx)
	util_log.CheckFatal("starting acquirer", err)

	if err := a.AwaitTerminated(context.Background()); err != nil {
		if kind := session.KindOf(a.FailureCase()); kind != "" {
			level.Error(logger).Log("msg", "acquisition failed", "kind", kind, "err", a.FailureCase().Error())
		} else {
			level.Error(logger).Log("msg", "acquisition failed", "err", err.Error())
		}
		os.Exit(1)
	}

	res := a.Result()
	level.Info(logger).Log("msg", "recording acquired",
		"path", res.FilePath,
		"bytes", res.Bytes,
		"asset_url", res.AssetURL)
}

func loadConfig(path string) (*zoomgrab.Config, error) {
	cfg := &zoomgrab.Config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config file")
	}

	return cfg, nil
}
