package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/alecthomas/kong"
	"github.com/crazy-max/archivist/internal/app"
	"github.com/crazy-max/archivist/internal/config"
	"github.com/crazy-max/archivist/internal/logging"
	"github.com/rs/zerolog/log"
)

var (
	archivist *app.Archivist
	cli       config.Cli
	version   = "dev"
	meta      = config.Meta{
		ID:     "archivist",
		Name:   "Archivist",
		Desc:   "Read, write and extract tar, zip and rar archives",
		URL:    "https://github.com/crazy-max/archivist",
		Author: "CrazyMax",
	}
)

func main() {
	var err error
	runtime.GOMAXPROCS(runtime.NumCPU())

	meta.Version = version
	meta.UserAgent = fmt.Sprintf("%s/%s go/%s %s", meta.ID, meta.Version, runtime.Version()[2:], strings.Title(runtime.GOOS)) //nolint:staticcheck // ignoring "SA1019: strings.Title is deprecated", as for our use we don't need full unicode support

	kctx := kong.Parse(&cli,
		kong.Name(meta.ID),
		kong.Description(fmt.Sprintf("%s. More info: %s", meta.Desc, meta.URL)),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	// Logging
	if err = logging.Configure(cli); err != nil {
		log.Fatal().Err(err).Msg("Unknown log level")
	}

	// Init
	if archivist, err = app.New(meta, cli); err != nil {
		log.Fatal().Err(err).Msg("cannot initialize archivist")
	}

	// Handle os signals
	channel := make(chan os.Signal, 1)
	signal.Notify(channel, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-channel
		archivist.Close()
		log.Warn().Msgf("caught signal %v", sig)
	}()

	// Start
	if err = archivist.Start(kctx.Command()); err != nil {
		log.Fatal().Stack().Err(err).Send()
	}
}
