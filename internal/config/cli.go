package config

import (
	"github.com/alecthomas/kong"
	"github.com/crazy-max/archivist/pkg/archive"
	"github.com/crazy-max/archivist/pkg/archive/filter"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

type Cli struct {
	Version kong.VersionFlag

	LogLevel   string `kong:"name=log-level,env=LOG_LEVEL,default=info,help='Set log level.'"`
	LogJSON    bool   `kong:"name=log-json,env=LOG_JSON,default=false,help='Enable JSON logging output.'"`
	LogCaller  bool   `kong:"name=log-caller,env=LOG_CALLER,default=false,help='Add file:line of the caller to log output.'"`
	LogNoColor bool   `kong:"name=log-nocolor,env=LOG_NOCOLOR,default=false,help='Disable colorized output.'"`

	Extract    ExtractCmd `kong:"cmd,help='Extract archives to a folder.'"`
	List       ListCmd    `kong:"cmd,help='List the entries of an archive.'"`
	Create     CreateCmd  `kong:"cmd,help='Create an archive from files and folders.'"`
	Cat        CatCmd     `kong:"cmd,help='Write the content of an archive entry to stdout.'"`
	VersionCmd VersionCmd `kong:"cmd,name=version,help='Show version.'"`
}

// ReadFlags are shared by the commands reading archives.
type ReadFlags struct {
	Passphrases []string `kong:"name=passphrase,env=ARCHIVIST_PASSPHRASE,help='Passphrase tried on encrypted entries. Can be repeated.'"`
	Format      string   `kong:"name=format,help='Disable format detection. (eg. tar, zip, rar)'"`
	Filter      string   `kong:"name=filter,help='Disable filter detection with a comma separated chain in writing order. (eg. gzip or none)'"`
	TempDir     string   `kong:"name=tempdir,type=path,env=ARCHIVIST_TEMP_DIR,help='Folder where streamed zip archives are spooled.'"`
}

// ReaderOptions returns the archive reader options matching the flags.
func (f ReadFlags) ReaderOptions() ([]archive.ReaderOption, error) {
	var opts []archive.ReaderOption
	for _, p := range f.Passphrases {
		opts = append(opts, archive.WithPassphrase(p))
	}
	if len(f.Format) > 0 {
		format, err := archive.ParseFormat(f.Format)
		if err != nil {
			return nil, err
		}
		opts = append(opts, archive.WithFormat(format))
	}
	if len(f.Filter) > 0 {
		chain, err := filter.ParseChain(f.Filter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, archive.WithFilters(chain...))
	}
	if len(f.TempDir) > 0 {
		opts = append(opts, archive.WithTempDir(f.TempDir))
	}
	return opts, nil
}

type ExtractCmd struct {
	ReadFlags `kong:"embed"`

	Dest         string `kong:"name=dest,short=C,type=path,default='.',help='Destination folder.'"`
	RmDest       bool   `kong:"name=rm-dest,default=false,help='Removes destination folder first.'"`
	Wrap         bool   `kong:"name=wrap,default=false,help='With several sources, merge output in destination folder.'"`
	AbortOnError bool   `kong:"name=abort-on-error,default=false,help='Stop at the first entry that cannot be extracted.'"`
	NoSamePerms  bool   `kong:"name=no-same-permissions,default=false,help='Do not restore archived permissions.'"`
	NoSameTimes  bool   `kong:"name=no-same-times,default=false,help='Do not restore archived modification times.'"`

	Sources []string `kong:"arg,required,name=source,type=path,help='Archive files. (eg. backup.tar.gz)'"`
}

type ListCmd struct {
	ReadFlags `kong:"embed"`

	Digest    bool   `kong:"name=digest,default=false,help='Compute a digest of each file.'"`
	Algorithm string `kong:"name=algorithm,enum='sha256,sha384,sha512',default=sha256,help='Digest algorithm.'"`
	JSON      bool   `kong:"name=json,default=false,help='Output entries as JSON lines.'"`

	Source string `kong:"arg,required,name=source,type=existingfile,help='Archive file.'"`
}

// DigestAlgorithm returns the algorithm to list with, or an empty one.
func (c ListCmd) DigestAlgorithm() digest.Algorithm {
	if !c.Digest {
		return ""
	}
	return digest.Algorithm(c.Algorithm)
}

type CreateCmd struct {
	Format     string `kong:"name=format,help='Archive format. Guessed from the output name when omitted. (eg. tar, zip)'"`
	Filter     string `kong:"name=filter,help='Comma separated filter chain in writing order. Guessed with the format. (eg. gzip)'"`
	Options    string `kong:"name=options,help='Writer options. (eg. gzip:compression-level=9,zip:compression=deflate)'"`
	Passphrase string `kong:"name=passphrase,env=ARCHIVIST_PASSPHRASE,help='Encrypt entries with this passphrase (zip only).'"`

	Output string   `kong:"arg,required,name=output,type=path,help='Archive to create. (eg. backup.tar.zst)'"`
	Paths  []string `kong:"arg,required,name=path,help='Files and folders to add.'"`
}

// Validate is called by kong after parsing.
func (c *CreateCmd) Validate() error {
	if len(c.Format) == 0 && len(c.Filter) > 0 {
		return errors.New("--filter requires --format")
	}
	return nil
}

// Target returns the format and filter chain of the archive to create.
func (c CreateCmd) Target() (archive.Format, filter.Chain, error) {
	if len(c.Format) == 0 {
		return archive.FormatFromPath(c.Output)
	}
	format, err := archive.ParseFormat(c.Format)
	if err != nil {
		return 0, nil, err
	}
	chain, err := filter.ParseChain(c.Filter)
	if err != nil {
		return 0, nil, err
	}
	return format, chain, nil
}

type CatCmd struct {
	ReadFlags `kong:"embed"`

	Source string `kong:"arg,required,name=source,type=existingfile,help='Archive file.'"`
	Entry  string `kong:"arg,required,name=entry,help='Path of the entry in the archive.'"`
}

type VersionCmd struct{}
