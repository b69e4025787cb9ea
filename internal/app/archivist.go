package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crazy-max/archivist/internal/config"
	"github.com/pkg/errors"
)

// Archivist represents an active archivist object
type Archivist struct {
	ctx    context.Context
	cancel context.CancelFunc
	meta   config.Meta
	cli    config.Cli
	out    io.Writer
}

// New creates new archivist instance
func New(meta config.Meta, cli config.Cli) (*Archivist, error) {
	for _, dir := range []string{cli.Extract.TempDir, cli.List.TempDir, cli.Cat.TempDir} {
		if len(dir) == 0 {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "failed to create temp directory %q", dir)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Archivist{
		ctx:    ctx,
		cancel: cancel,
		meta:   meta,
		cli:    cli,
		out:    os.Stdout,
	}, nil
}

// Start runs command, the selected command as reported by kong
// (eg. "extract <source>").
func (c *Archivist) Start(command string) error {
	name, _, _ := strings.Cut(command, " ")
	switch name {
	case "extract":
		return c.extract()
	case "list":
		return c.list()
	case "create":
		return c.create()
	case "cat":
		return c.cat()
	case "version":
		_, err := fmt.Fprintln(c.out, c.meta.Version)
		return err
	default:
		return errors.Errorf("unknown command %q", command)
	}
}

// Close cancels running operations
func (c *Archivist) Close() {
	c.cancel()
}
