package hg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/go-hg/hg/cmdserver"
)

var (
	// ErrHgNotFound is returned when the hg executable is not
	// installed.
	ErrHgNotFound = cmdserver.ErrHgNotFound

	// ErrNotRepository is returned when the path does not contain a
	// repository.
	ErrNotRepository = cmdserver.ErrNotRepository
)

// CommandError describes an hg command that finished with a non-zero
// exit status.
type CommandError = cmdserver.CommandError

// csetTemplate is the log template changesets are fetched with. hg
// unescapes the \0 sequences on output, so the result splits cleanly
// on NUL even though command arguments themselves cannot carry NUL
// bytes.
const csetTemplate = `{rev}\0{node}\0{tags}\0{branch}\0{author}\0{desc}\0{date}\0{p1rev}\0{p1node}\0{p2rev}\0{p2node}\0{phase}\0`

const csetFields = 12

// Repository is a local Mercurial repository driven over a command
// server. Methods are safe for concurrent use; commands are serialized
// over the single server connection.
type Repository struct {
	opt    *Options
	client *cmdserver.Client

	mu      sync.Mutex
	csets   *simplelru.LRU
	changes *simplelru.LRU
}

// Open opens an existing repository.
func Open(opt *Options) (*Repository, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.Init()

	client, err := cmdserver.New(opt.server())
	if err != nil {
		return nil, err
	}
	return newRepository(opt, client)
}

// Init creates a new repository at path and opens it. opt carries the
// remaining options; its Path is replaced with path.
func Init(ctx context.Context, path string, opt *Options) (*Repository, error) {
	if opt == nil {
		opt = &Options{}
	}
	if _, err := cmdserver.RunOneShot(ctx, opt.oneShot(), "init", path); err != nil {
		return nil, err
	}
	opt.Path = path
	return Open(opt)
}

// CloneOptions control Clone.
type CloneOptions struct {
	// NoUpdate clones without checking out a working copy.
	NoUpdate bool
	// UpdateRev checks out the given revision instead of the tip.
	UpdateRev string
	// Revs clones only the given changesets and their ancestors.
	Revs []string
	// Branches clones only the given branches.
	Branches []string
	// Pull uses the pull protocol to copy metadata even from local
	// sources.
	Pull bool
	// Uncompressed transfers without compression, which can be faster
	// over fast links.
	Uncompressed bool
	// SSH is the ssh command to use.
	SSH string
	// RemoteCmd is the hg command to run on the remote side.
	RemoteCmd string
	// Insecure skips verification of the server certificate.
	Insecure bool
}

// Clone copies the repository at source, which may be a path or a URL,
// to dest and opens the clone.
func Clone(ctx context.Context, source, dest string, opt *Options, clone *CloneOptions) (*Repository, error) {
	if opt == nil {
		opt = &Options{}
	}
	if clone == nil {
		clone = &CloneOptions{}
	}

	args := command("clone").
		flag("-U", clone.NoUpdate).
		value("-u", clone.UpdateRev).
		values("-r", clone.Revs).
		values("-b", clone.Branches).
		flag("--pull", clone.Pull).
		flag("--uncompressed", clone.Uncompressed).
		value("-e", clone.SSH).
		value("--remotecmd", clone.RemoteCmd).
		flag("--insecure", clone.Insecure).
		add(source, dest)
	if _, err := cmdserver.RunOneShot(ctx, opt.oneShot(), args...); err != nil {
		return nil, err
	}

	opt.Path = dest
	return Open(opt)
}

func newRepository(opt *Options, client *cmdserver.Client) (*Repository, error) {
	csets, err := simplelru.NewLRU(opt.CacheSize, nil)
	if err != nil {
		return nil, err
	}
	changes, err := simplelru.NewLRU(opt.CacheSize, nil)
	if err != nil {
		return nil, err
	}
	return &Repository{
		opt:     opt,
		client:  client,
		csets:   csets,
		changes: changes,
	}, nil
}

// Path returns the repository root.
func (r *Repository) Path() string {
	return r.opt.Path
}

// Close shuts down the command server.
func (r *Repository) Close() error {
	return r.client.Close()
}

// Len returns the number of changesets in the repository.
func (r *Repository) Len(ctx context.Context) (int, error) {
	out, err := r.client.RunCommand(ctx, "tip", "--template", "{rev}")
	if err != nil {
		return 0, err
	}
	rev := bytes.TrimSpace(out)
	n, err := strconv.Atoi(string(rev))
	if err != nil {
		return 0, fmt.Errorf("hg: bad tip revision %q", rev)
	}
	return n + 1, nil
}

// Tip returns the tip changeset.
func (r *Repository) Tip(ctx context.Context) (*Changeset, error) {
	return r.Changeset(ctx, "tip")
}

// Current returns the working directory's parent changeset.
func (r *Repository) Current(ctx context.Context) (*Changeset, error) {
	return r.Changeset(ctx, ".")
}

// Changeset resolves changeid, which may be a revision number, a hash
// prefix, a tag, a bookmark, or any other revision expression naming
// exactly one changeset.
func (r *Repository) Changeset(ctx context.Context, changeid string) (*Changeset, error) {
	return r.fetchOne(ctx, changeid)
}

// Query runs a revset expression and returns the matching changesets
// in revset order, fully loaded.
//
// The expression may contain placeholders expanded from args: %0, %1,
// ... insert the corresponding argument and %% inserts a literal
// percent sign. Strings are quoted and escaped, Changesets become
// id(<node>) terms, times become quoted ISO 8601 stamps and revsets
// are parenthesized.
func (r *Repository) Query(ctx context.Context, expr string, args ...interface{}) ([]*Changeset, error) {
	expanded, err := expandQuery(expr, args)
	if err != nil {
		return nil, err
	}
	return r.fetchAll(ctx, expanded)
}

// getLazy returns the cached changeset for node, minting an unfetched
// one on a cache miss. The cache doubles as the interning table, so an
// evicted node resolves to a fresh instance afterwards.
func (r *Repository) getLazy(rev int, node string) *Changeset {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.csets.Get(node); ok {
		return v.(*Changeset)
	}
	cs := &Changeset{repo: r, rev: rev, node: node}
	r.csets.Add(node, cs)
	return cs
}

func (r *Repository) csetFromInfo(info []string) (*Changeset, error) {
	rev, err := strconv.Atoi(info[0])
	if err != nil {
		return nil, fmt.Errorf("hg: bad changeset revision %q", info[0])
	}
	cs := r.getLazy(rev, info[1])
	if err := cs.init(info); err != nil {
		return nil, err
	}
	return cs, nil
}

// fetchInfo runs hg log for changeid and returns the raw field rows.
// limit > 0 caps the number of changesets fetched.
func (r *Repository) fetchInfo(ctx context.Context, changeid string, limit int) ([][]string, error) {
	args := argv{"log", "-r", changeid, "--template", csetTemplate}
	if limit > 0 {
		args = args.add("-l", strconv.Itoa(limit))
	}
	out, err := r.client.RunCommand(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitInfo(out), nil
}

// splitInfo splits NUL-joined template output into rows of csetFields
// fields. The trailing separator leaves a partial row behind, which is
// dropped.
func splitInfo(out []byte) [][]string {
	fields := strings.Split(string(out), "\x00")
	var rows [][]string
	for i := 0; i+csetFields <= len(fields); i += csetFields {
		rows = append(rows, fields[i:i+csetFields])
	}
	return rows
}

func (r *Repository) fetchOne(ctx context.Context, changeid string) (*Changeset, error) {
	infos, err := r.fetchInfo(ctx, changeid, 2)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("hg: %q matched no changesets", changeid)
	}
	if len(infos) > 1 {
		return nil, fmt.Errorf("hg: %q must identify a single changeset", changeid)
	}
	return r.csetFromInfo(infos[0])
}

func (r *Repository) fetchAll(ctx context.Context, changeid string) ([]*Changeset, error) {
	infos, err := r.fetchInfo(ctx, changeid, 0)
	if err != nil {
		return nil, err
	}
	csets := make([]*Changeset, 0, len(infos))
	for _, info := range infos {
		cs, err := r.csetFromInfo(info)
		if err != nil {
			return nil, err
		}
		csets = append(csets, cs)
	}
	return csets, nil
}

func (r *Repository) run(ctx context.Context, args argv) ([]byte, error) {
	return r.client.RunCommand(ctx, args...)
}

// runBool runs a command whose failure mode is advisory: hg reports
// "nothing happened" conditions with exit status 1, which callers see
// as false rather than an error.
func (r *Repository) runBool(ctx context.Context, args argv) (bool, error) {
	_, err := r.run(ctx, args)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var placeholderRE = regexp.MustCompile(`%(?:%|(?:\d+)|(?:[A-Za-z_][0-9A-Za-z_]*))`)

// expandQuery substitutes placeholders in a revset expression.
func expandQuery(expr string, args []interface{}) (string, error) {
	var subErr error
	expanded := placeholderRE.ReplaceAllStringFunc(expr, func(m string) string {
		if m == "%%" {
			return "%"
		}
		if m[1] >= '0' && m[1] <= '9' {
			n, err := strconv.Atoi(m[1:])
			if err != nil || n >= len(args) {
				if subErr == nil {
					subErr = fmt.Errorf("hg: query placeholder %s out of range", m)
				}
				return m
			}
			s, err := queryArg(args[n])
			if err != nil {
				if subErr == nil {
					subErr = err
				}
				return m
			}
			return s
		}
		if subErr == nil {
			subErr = fmt.Errorf("hg: unknown query placeholder %s", m)
		}
		return m
	})
	if subErr != nil {
		return "", subErr
	}
	return expanded, nil
}

func queryArg(v interface{}) (string, error) {
	switch v := v.(type) {
	case *Changeset:
		return "id(" + v.node + ")", nil
	case *RevSet:
		return "(" + v.String() + ")", nil
	case time.Time:
		return "'" + v.Format(revsetTimeLayout) + "'", nil
	case string:
		return "'" + escapeQuote(v) + "'", nil
	case int:
		return strconv.Itoa(v), nil
	}
	return "", fmt.Errorf("hg: cannot use %T as a query argument", v)
}
