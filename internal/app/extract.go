package app

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/crazy-max/archivist/pkg/archive/disk"
	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func (c *Archivist) extract() error {
	cmd := c.cli.Extract
	ropts, err := cmd.ReaderOptions()
	if err != nil {
		return errors.Wrap(err, "invalid read options")
	}

	if _, err := os.Stat(cmd.Dest); err == nil && cmd.RmDest {
		if err := os.RemoveAll(cmd.Dest); err != nil {
			return errors.Wrapf(err, "failed to remove destination folder %q", cmd.Dest)
		}
	}
	if err := os.MkdirAll(cmd.Dest, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create destination folder %q", cmd.Dest)
	}

	eg, ctx := errgroup.WithContext(c.ctx)
	for _, source := range cmd.Sources {
		eg.Go(func() error {
			dest := cmd.Dest
			if !cmd.Wrap && len(cmd.Sources) > 1 {
				dest = filepath.Join(cmd.Dest, stem(source))
			}
			logger := log.With().Str("src", source).Logger()

			r, err := archive.OpenFile(source, append(slices.Clip(ropts), archive.WithLogger(logger))...)
			if err != nil {
				return errors.Wrapf(err, "cannot open %s", source)
			}
			defer r.Close()
			logger.Debug().Msgf("Archive %s detected", archive.Describe(r))

			if err := disk.Extract(ctx, r, dest, c.extractOptions(logger)...); err != nil {
				return errors.Wrapf(err, "cannot extract %s", source)
			}
			logger.Info().Str("dest", dest).Msg("Archive extracted")
			return nil
		})
	}

	return eg.Wait()
}

func (c *Archivist) extractOptions(logger zerolog.Logger) []disk.Option {
	cmd := c.cli.Extract
	return []disk.Option{
		disk.WithLogger(logger),
		disk.WithAbortOnError(cmd.AbortOnError),
		disk.WithPreservePermissions(!cmd.NoSamePerms),
		disk.WithPreserveTimes(!cmd.NoSameTimes),
	}
}

// stem returns the file name of source without its archive extensions,
// eg. "site" for "/tmp/site.tar.gz".
func stem(source string) string {
	name := filepath.Base(source)
	for {
		ext := filepath.Ext(name)
		if ext == "" || ext == name {
			return name
		}
		if _, _, err := archive.FormatFromPath(ext); err != nil {
			if _, err := filter.ParseKind(ext); err != nil {
				return name
			}
		}
		name = strings.TrimSuffix(name, ext)
	}
}
