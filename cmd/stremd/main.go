package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/stremd/stremd/config"
	"github.com/stremd/stremd/engine"
	"github.com/stremd/stremd/http"
	dlog "github.com/stremd/stremd/log"
	"github.com/stremd/stremd/session"
)

const (
	configFlag = "config"
	portFlag   = "http-port"
)

func main() {
	app := &cli.App{
		Name:  "stremd",
		Usage: "Local BitTorrent streaming engine with an HTTP control API.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Value:   "./stremd-data/config/config.yaml",
				EnvVars: []string{"STREMD_CONFIG"},
				Usage:   "YAML file containing stremd configuration.",
			},
			&cli.IntFlag{
				Name:    portFlag,
				Value:   0,
				EnvVars: []string{"STREMD_HTTP_PORT"},
				Usage:   "Override the control API port.",
			},
		},

		Action: func(c *cli.Context) error {
			return load(c.String(configFlag), c.Int(portFlag))
		},

		HideHelpCommand: true,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("problem starting application")
	}
}

func load(configPath string, port int) error {
	ch := config.NewHandler(configPath)

	conf, err := ch.Get()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	if port > 0 {
		conf.HTTP.Port = port
	}

	dlog.Load(conf.Log)

	if err := os.MkdirAll(conf.Torrent.MetadataFolder, 0744); err != nil {
		return fmt.Errorf("error creating metadata folder: %w", err)
	}
	if err := os.MkdirAll(conf.Torrent.DownloadsFolder, 0744); err != nil {
		return fmt.Errorf("error creating downloads folder: %w", err)
	}

	fis, err := session.NewFileItemStore(filepath.Join(conf.Torrent.MetadataFolder, "items"), 2*time.Hour)
	if err != nil {
		return fmt.Errorf("error starting item store: %w", err)
	}

	id, err := session.GetOrCreatePeerID(filepath.Join(conf.Torrent.MetadataFolder, "ID"))
	if err != nil {
		return fmt.Errorf("error creating node ID: %w", err)
	}

	pc, err := session.NewPieceCompletion(filepath.Join(conf.Torrent.MetadataFolder, "completion"))
	if err != nil {
		return fmt.Errorf("error starting piece-completion store: %w", err)
	}

	ses := session.New(conf.Torrent, pc, fis, id)
	if err := ses.Start(); err != nil {
		return fmt.Errorf("error starting session: %w", err)
	}

	ses.SetLimits(conf.Torrent.DownloadLimitMbit, conf.Torrent.UploadLimitMbit)

	eng := engine.New(ses, conf.Torrent)
	eng.Start()

	// Rate limits follow the config file without a restart.
	if err := ch.Watch(func(fresh *config.Root) {
		ses.SetLimits(fresh.Torrent.DownloadLimitMbit, fresh.Torrent.UploadLimitMbit)
	}); err != nil {
		log.Warn().Err(err).Msg("config watcher not started")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("closing engine...")
		eng.Close()
		log.Info().Msg("closing session...")
		ses.Stop()
		log.Info().Msg("closing piece-completion store...")
		if err := pc.Close(); err != nil {
			log.Warn().Err(err).Msg("problem closing piece-completion store")
		}
		log.Info().Msg("closing items database...")
		fis.Close()
		ch.Close()

		log.Info().Msg("exiting")
		os.Exit(0)
	}()

	return http.New(eng, conf.HTTP, conf.Stream)
}
