package app

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/crazy-max/archivist/pkg/archive/disk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func (c *Archivist) list() error {
	cmd := c.cli.List
	ropts, err := cmd.ReaderOptions()
	if err != nil {
		return errors.Wrap(err, "invalid read options")
	}

	logger := log.With().Str("src", cmd.Source).Logger()
	r, err := archive.OpenFile(cmd.Source, append(ropts, archive.WithLogger(logger))...)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s", cmd.Source)
	}
	defer r.Close()

	// Entries read before a failure are still printed.
	items, err := disk.List(c.ctx, r, disk.WithLogger(logger), disk.WithDigest(cmd.DigestAlgorithm()))
	if perr := c.printItems(items, cmd.JSON); perr != nil {
		return perr
	}
	return errors.Wrapf(err, "cannot list %s", cmd.Source)
}

func (c *Archivist) printItems(items []disk.Item, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(c.out)
		for _, it := range items {
			if err := enc.Encode(it); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, it := range items {
		name := it.Path
		if it.Kind == archive.KindSymlink || it.Kind == archive.KindHardLink {
			name += " -> " + it.LinkTarget
		}
		var mtime string
		if !it.ModTime.IsZero() {
			mtime = it.ModTime.Local().Format(time.DateTime)
		}
		if len(it.Digest) > 0 {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", it.Kind, it.Size, mtime, it.Digest, name)
		} else {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", it.Kind, it.Size, mtime, name)
		}
	}
	return w.Flush()
}
