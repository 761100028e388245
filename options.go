package hg

import (
	"os"

	"github.com/go-hg/hg/cmdserver"
)

type Options struct {
	// Path is the repository root, the directory that contains ".hg".
	// Default is the current working directory.
	Path string

	// HgPath is the hg executable to run.
	// Default is to search PATH for "hg".
	HgPath string

	// Encoding is the character encoding hg is asked to use.
	// Default is utf-8.
	Encoding string

	// Configs holds extra "section.name=value" configuration pairs
	// passed to the server as --config flags.
	Configs []string

	// CacheSize is the number of changesets and of parsed change lists
	// kept in the repository caches.
	// Default is 16 entries.
	CacheSize int

	inited bool
}

func (opt *Options) Init() {
	if opt.inited {
		return
	}
	opt.inited = true

	if opt.Path == "" {
		opt.Path, _ = os.Getwd()
	}
	if opt.Encoding == "" {
		opt.Encoding = "utf-8"
	}
	if opt.CacheSize == 0 {
		opt.CacheSize = 16
	}
}

func (opt *Options) server() *cmdserver.Options {
	return &cmdserver.Options{
		Path:     opt.Path,
		HgPath:   opt.HgPath,
		Encoding: opt.Encoding,
		Configs:  opt.Configs,
	}
}

// oneShot carries the options that matter for hg runs outside the
// server, such as init and clone, where the repository does not exist
// yet.
func (opt *Options) oneShot() *cmdserver.Options {
	return &cmdserver.Options{
		HgPath:   opt.HgPath,
		Encoding: opt.Encoding,
	}
}
