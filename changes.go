package hg

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/go-hg/hg/diff"
	"github.com/go-hg/hg/internal"
)

// DiffOptions control Diff and Changes.
type DiffOptions struct {
	// Revs select what to compare: none compares the working
	// directory to its parent, one compares the working directory to
	// that revision, two compare the revisions themselves.
	Revs []string
	// Change shows the diff a single changeset introduced and cannot
	// be combined with Revs.
	Change string

	// Text treats all files as text.
	Text bool
	// Git uses the git extended diff format. Changes always sets it.
	Git bool
	// NoDates omits dates from diff headers.
	NoDates bool
	// ShowFunction shows the enclosing function for each hunk.
	ShowFunction bool
	// Reverse produces the reverse diff.
	Reverse bool

	IgnoreAllSpace    bool
	IgnoreSpaceChange bool
	IgnoreBlankLines  bool

	// Unified sets the number of context lines. Zero keeps hg's
	// default and -1 requests no context at all.
	Unified int

	// Stat produces a diffstat summary instead of a patch.
	Stat bool

	SubRepos bool
	Include  []string
	Exclude  []string
}

func (opt *DiffOptions) args(files []string) (argv, error) {
	if len(opt.Revs) > 0 && opt.Change != "" {
		return nil, errors.New("hg: diff takes either Revs or Change, not both")
	}
	args := command("diff").
		values("-r", opt.Revs).
		value("-c", opt.Change).
		flag("-a", opt.Text).
		flag("-g", opt.Git).
		flag("--nodates", opt.NoDates).
		flag("-p", opt.ShowFunction).
		flag("--reverse", opt.Reverse).
		flag("-w", opt.IgnoreAllSpace).
		flag("-b", opt.IgnoreSpaceChange).
		flag("-B", opt.IgnoreBlankLines).
		flag("--stat", opt.Stat).
		flag("-S", opt.SubRepos).
		values("-I", opt.Include).
		values("-X", opt.Exclude)
	switch {
	case opt.Unified == -1:
		args = args.add("-U", "0")
	case opt.Unified > 0:
		args = args.add("-U", strconv.Itoa(opt.Unified))
	}
	return args.add(files...), nil
}

// Diff returns the patch text for the requested comparison, restricted
// to files when given.
func (r *Repository) Diff(ctx context.Context, files []string, opt *DiffOptions) ([]byte, error) {
	if opt == nil {
		opt = &DiffOptions{}
	}
	args, err := opt.args(files)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, args)
}

// Changes runs Diff in git format and parses the result. Change lists
// of a single changeset are cached by the repository, since a
// committed changeset's diff never changes.
func (r *Repository) Changes(ctx context.Context, files []string, opt *DiffOptions) ([]*diff.Change, error) {
	if opt == nil {
		opt = &DiffOptions{}
	}
	forced := *opt
	forced.Git = true
	forced.Stat = false

	cacheable := forced.Change != "" && len(files) == 0
	var key string
	if cacheable {
		key = string(internal.Hash(
			forced.Change, forced.Text, forced.Reverse,
			forced.IgnoreAllSpace, forced.IgnoreSpaceChange, forced.IgnoreBlankLines,
			forced.Unified, forced.SubRepos, forced.Include, forced.Exclude,
		))
		r.mu.Lock()
		v, ok := r.changes.Get(key)
		r.mu.Unlock()
		if ok {
			return v.([]*diff.Change), nil
		}
	}

	out, err := r.Diff(ctx, files, &forced)
	if err != nil {
		return nil, err
	}
	changes, err := diff.Parse(bytes.NewReader(out))
	if err != nil {
		return nil, err
	}

	if cacheable {
		r.mu.Lock()
		r.changes.Add(key, changes)
		r.mu.Unlock()
	}
	return changes, nil
}

// CatOptions control Cat.
type CatOptions struct {
	// Rev reads files at the given revision instead of the working
	// directory parent.
	Rev string
	// Output writes each file to a name built from the given format
	// instead of returning the data: %s, %d and %p expand to the
	// file's basename, dirname and full path, %H, %R and %h to the
	// changeset hash, revision and short hash.
	Output string
	// Decode applies any matching decode filters.
	Decode bool

	Include []string
	Exclude []string
}

// Cat returns the contents of the named files at a revision,
// concatenated. With Output set the data is written to files and the
// returned bytes are empty. For large files prefer Changeset.Open,
// which streams instead of buffering.
func (r *Repository) Cat(ctx context.Context, files []string, opt *CatOptions) ([]byte, error) {
	if len(files) == 0 {
		return nil, errors.New("hg: cat needs at least one file")
	}
	if opt == nil {
		opt = &CatOptions{}
	}
	args := command("cat").
		value("-r", opt.Rev).
		value("-o", opt.Output).
		flag("--decode", opt.Decode).
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		add(files...)
	return r.run(ctx, args)
}
