package app

import (
	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/crazy-max/archivist/pkg/archive/disk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func (c *Archivist) cat() error {
	cmd := c.cli.Cat
	ropts, err := cmd.ReaderOptions()
	if err != nil {
		return errors.Wrap(err, "invalid read options")
	}

	r, err := archive.OpenFile(cmd.Source, append(ropts, archive.WithLogger(log.Logger))...)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", cmd.Source)
	}
	defer r.Close()

	n, err := disk.CopyEntry(c.out, r, cmd.Entry)
	if err != nil {
		return errors.Wrapf(err, "cannot read %s from %s", cmd.Entry, cmd.Source)
	}
	log.Debug().Int64("size", n).Str("entry", cmd.Entry).Msg("Entry written")
	return nil
}
