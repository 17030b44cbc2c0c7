package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/jawher/mow.cli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/rtspd/internal/api"
	"github.com/bilbercode/rtspd/internal/camera"
	"github.com/bilbercode/rtspd/internal/config"
	"github.com/bilbercode/rtspd/internal/rtp"
	"github.com/bilbercode/rtspd/internal/rtsp"
)

const (
	appName = "rtspd"
	appDesc = "RTSP server for looping H.264/AAC camera files"
)

func main() {
	app := cli.App(appName, appDesc)

	configPath := app.String(cli.StringOpt{
		Name:   "c config",
		Desc:   "YAML configuration file",
		EnvVar: "RTSPD_CONFIG",
		Value:  "",
	})

	listen := app.String(cli.StringOpt{
		Name:   "l listen",
		Desc:   "RTSP listen address, overrides the configuration file",
		EnvVar: "RTSPD_LISTEN",
		Value:  "",
	})

	workers := app.Int(cli.IntOpt{
		Name:   "w workers",
		Desc:   "number of worker loops, overrides the configuration file",
		EnvVar: "RTSPD_WORKERS",
		Value:  0,
	})

	logLevel := app.String(cli.StringOpt{
		Name:   "log-level",
		Desc:   "log level, overrides the configuration file",
		EnvVar: "RTSPD_LOG_LEVEL",
		Value:  "",
	})

	metrics := app.String(cli.StringOpt{
		Name:   "metrics",
		Desc:   "admin HTTP listen address serving metrics, sessions and cameras",
		EnvVar: "RTSPD_METRICS",
		Value:  "",
	})

	app.Action = func() {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load configuration")
		}
		if *listen != "" {
			cfg.Listen = *listen
		}
		if *workers > 0 {
			cfg.Workers = *workers
		}
		if *logLevel != "" {
			cfg.Log.Level = *logLevel
		}
		if *metrics != "" {
			cfg.Metrics.Listen = *metrics
		}

		level, err := log.ParseLevel(cfg.Log.Level)
		if err != nil {
			log.WithError(err).Fatal("invalid log level")
		}
		log.SetLevel(level)

		cameras, err := camera.NewCatalog(cfg.Cameras, cfg.DefaultCamera)
		if err != nil {
			log.WithError(err).Fatal("failed to build camera catalog")
		}

		rtpCfg := rtp.DefaultConfig()
		rtpCfg.MTU = cfg.RTP.MTU
		rtpCfg.Tick = cfg.RTP.Tick
		rtpCfg.FragmentPacing = cfg.RTP.FragmentPacing
		rtpCfg.FragmentBurst = cfg.RTP.FragmentBurst

		rtspServer := rtsp.NewServer(rtsp.Config{
			Workers:        cfg.Workers,
			PollTimeout:    cfg.PollTimeout,
			SessionTimeout: cfg.Session.Timeout,
			PortBase:       cfg.UDP.PortBase,
			RTP:            rtpCfg,
		}, cameras)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		group, ctx := errgroup.WithContext(ctx)

		group.Go(func() error {
			return rtspServer.Start(ctx, cfg.Listen)
		})

		if cfg.Metrics.Listen != "" {
			group.Go(func() error {
				return api.NewServer(cfg.Metrics.Listen, rtspServer.Store(), cameras).Start(ctx)
			})
		}

		log.WithFields(log.Fields{
			"listen":  cfg.Listen,
			"workers": cfg.Workers,
			"cameras": len(cfg.Cameras),
		}).Info("rtsp server starting")

		if err := group.Wait(); err != nil {
			log.WithError(err).Fatal("stopped")
		}
		log.Info("rtsp server stopped")
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("failed to execute application")
	}
}
