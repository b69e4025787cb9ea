package app

import (
	"os"

	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/crazy-max/archivist/pkg/archive/disk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func (c *Archivist) create() error {
	cmd := c.cli.Create
	format, chain, err := cmd.Target()
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", cmd.Output)
	}
	logger := log.With().Str("output", cmd.Output).Logger()

	wopts := []archive.WriterOption{archive.WithWriterLogger(logger)}
	if len(cmd.Passphrase) > 0 {
		wopts = append(wopts, archive.WithWriterPassphrase(cmd.Passphrase))
	}
	w, err := archive.CreateFile(cmd.Output, format, chain, wopts...)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", cmd.Output)
	}
	if len(cmd.Options) > 0 {
		if err := w.SetOptions(cmd.Options); err != nil {
			_ = w.Close()
			_ = os.Remove(cmd.Output)
			return errors.Wrap(err, "invalid writer options")
		}
	}

	err = disk.AddPaths(c.ctx, w, cmd.Paths, disk.WithLogger(logger))
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(cmd.Output)
		return errors.Wrapf(err, "cannot create %s", cmd.Output)
	}
	logger.Info().Msgf("Archive %s created", archive.Describe(w))
	return nil
}
