package hg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Version identifies the hg binary serving the repository.
type Version struct {
	Major int
	Minor int
	Patch int
	Extra string
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Extra != "" {
		s += "+" + v.Extra
	}
	return s
}

var versionRE = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?(?:\+([0-9a-f-]+))?`)

// Version reports the version of the hg binary behind the repository.
func (r *Repository) Version(ctx context.Context) (Version, error) {
	out, err := r.run(ctx, command("version").flag("-q", true))
	if err != nil {
		return Version{}, err
	}
	return parseVersion(out)
}

func parseVersion(out []byte) (Version, error) {
	m := versionRE.FindSubmatch(out)
	if m == nil {
		return Version{}, fmt.Errorf("hg: cannot parse version from %q", firstLine(out))
	}
	var v Version
	v.Major, _ = strconv.Atoi(string(m[1]))
	v.Minor, _ = strconv.Atoi(string(m[2]))
	if len(m[3]) > 0 {
		v.Patch, _ = strconv.Atoi(string(m[3]))
	}
	v.Extra = string(m[4])
	return v, nil
}

// Config returns hg configuration as a flat map from "section.name"
// keys to values. With section arguments only those sections are
// returned.
func (r *Repository) Config(ctx context.Context, sections ...string) (map[string]string, error) {
	out, err := r.run(ctx, command("showconfig").add(sections...))
	if err != nil {
		return nil, err
	}
	config := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		i := strings.IndexByte(line, '=')
		if i < 0 {
			continue
		}
		config[line[:i]] = strings.TrimSpace(line[i+1:])
	}
	return config, nil
}

// ConfigValue returns the configuration item named by a "section.name"
// key, or "" when it is not set.
func (r *Repository) ConfigValue(ctx context.Context, key string) (string, error) {
	out, err := r.run(ctx, command("showconfig").add(key))
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.Code == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Paths returns the symbolic path names configured for the repository,
// such as default and default-push.
func (r *Repository) Paths(ctx context.Context) (map[string]string, error) {
	out, err := r.run(ctx, command("paths"))
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		i := strings.Index(line, " = ")
		if i < 0 {
			continue
		}
		paths[line[:i]] = strings.TrimSpace(line[i+3:])
	}
	return paths, nil
}

// AddOptions control Add.
type AddOptions struct {
	// DryRun reports what would happen without touching the
	// repository.
	DryRun bool
	// SubRepos recurses into subrepositories.
	SubRepos bool
	// Include and Exclude restrict the affected files by pattern.
	Include []string
	Exclude []string
}

// Add schedules files for addition at the next commit. With no files
// all unknown files are added. It reports false when hg skipped some
// of the files.
func (r *Repository) Add(ctx context.Context, files []string, opt *AddOptions) (bool, error) {
	if opt == nil {
		opt = &AddOptions{}
	}
	args := command("add").
		flag("-n", opt.DryRun).
		flag("-S", opt.SubRepos).
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		add(files...)
	return r.runBool(ctx, args)
}

// AddRemoveOptions control AddRemove.
type AddRemoveOptions struct {
	// Similarity, between 0 and 100, reports renamed files by content
	// similarity instead of treating them as a delete and an add.
	// Zero uses hg's default.
	Similarity int
	DryRun     bool
	Include    []string
	Exclude    []string
}

// AddRemove adds new files and removes missing ones in one step.
func (r *Repository) AddRemove(ctx context.Context, files []string, opt *AddRemoveOptions) (bool, error) {
	if opt == nil {
		opt = &AddRemoveOptions{}
	}
	args := command("addremove").
		int("-s", opt.Similarity).
		flag("-n", opt.DryRun).
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		add(files...)
	return r.runBool(ctx, args)
}

// ForgetOptions control Forget.
type ForgetOptions struct {
	Include []string
	Exclude []string
}

// Forget stops tracking files at the next commit without deleting them
// from the working directory.
func (r *Repository) Forget(ctx context.Context, files []string, opt *ForgetOptions) (bool, error) {
	if len(files) == 0 {
		return false, errors.New("hg: forget needs at least one file")
	}
	if opt == nil {
		opt = &ForgetOptions{}
	}
	args := command("forget").
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		add(files...)
	return r.runBool(ctx, args)
}

// RemoveOptions control Remove.
type RemoveOptions struct {
	// After records removals for files already deleted from the
	// working directory.
	After bool
	// Force removes files even when added or modified.
	Force   bool
	Include []string
	Exclude []string
}

// Remove schedules files for removal at the next commit and deletes
// them from the working directory.
func (r *Repository) Remove(ctx context.Context, files []string, opt *RemoveOptions) (bool, error) {
	if len(files) == 0 {
		return false, errors.New("hg: remove needs at least one file")
	}
	if opt == nil {
		opt = &RemoveOptions{}
	}
	args := command("remove").
		flag("-A", opt.After).
		flag("-f", opt.Force).
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		add(files...)
	return r.runBool(ctx, args)
}

// MoveOptions control Move and Copy.
type MoveOptions struct {
	// After records the operation for files already moved or copied
	// outside hg.
	After   bool
	DryRun  bool
	Force   bool
	Include []string
	Exclude []string
}

// Move marks files as moved for the next commit. With several sources
// dest must be a directory.
func (r *Repository) Move(ctx context.Context, sources []string, dest string, opt *MoveOptions) (bool, error) {
	return r.moveOrCopy(ctx, "move", sources, dest, opt)
}

// Copy marks files as copied for the next commit. With several sources
// dest must be a directory.
func (r *Repository) Copy(ctx context.Context, sources []string, dest string, opt *MoveOptions) (bool, error) {
	return r.moveOrCopy(ctx, "copy", sources, dest, opt)
}

func (r *Repository) moveOrCopy(ctx context.Context, name string, sources []string, dest string, opt *MoveOptions) (bool, error) {
	if len(sources) == 0 {
		return false, fmt.Errorf("hg: %s needs at least one source", name)
	}
	if opt == nil {
		opt = &MoveOptions{}
	}
	args := command(name).
		flag("-A", opt.After).
		flag("-n", opt.DryRun).
		flag("-f", opt.Force).
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		add(sources...).
		add(dest)
	return r.runBool(ctx, args)
}

// Status classifies one file in Status output.
type Status byte

const (
	StatusModified  Status = 'M'
	StatusAdded     Status = 'A'
	StatusRemoved   Status = 'R'
	StatusClean     Status = 'C'
	StatusMissing   Status = '!'
	StatusUntracked Status = '?'
	StatusIgnored   Status = 'I'

	// StatusOrigin marks the source of a copy. It follows the copied
	// file's own entry when StatusOptions.Copies is set.
	StatusOrigin Status = ' '
)

func (s Status) String() string {
	switch s {
	case StatusModified:
		return "modified"
	case StatusAdded:
		return "added"
	case StatusRemoved:
		return "removed"
	case StatusClean:
		return "clean"
	case StatusMissing:
		return "missing"
	case StatusUntracked:
		return "untracked"
	case StatusIgnored:
		return "ignored"
	case StatusOrigin:
		return "origin"
	}
	return fmt.Sprintf("Status(%q)", byte(s))
}

// StatusEntry is one file reported by Status.
type StatusEntry struct {
	Status Status
	Name   string
}

// StatusOptions control Status.
type StatusOptions struct {
	// All reports all files, not only changed ones.
	All bool

	// Individual class switches. When none is set hg reports its
	// default classes.
	Modified  bool
	Added     bool
	Removed   bool
	Missing   bool
	Clean     bool
	Untracked bool
	Ignored   bool

	// Copies also reports the origin of copied files.
	Copies bool

	// Revs compares the working directory against one revision, or
	// two revisions against each other.
	Revs []string
	// Change reports the status of a single changeset and cannot be
	// combined with Revs.
	Change string

	SubRepos bool
	Include  []string
	Exclude  []string
}

// Status reports the state of files in the working directory, or
// between revisions.
func (r *Repository) Status(ctx context.Context, files []string, opt *StatusOptions) ([]StatusEntry, error) {
	if opt == nil {
		opt = &StatusOptions{}
	}
	if len(opt.Revs) > 0 && opt.Change != "" {
		return nil, errors.New("hg: status takes either Revs or Change, not both")
	}
	args := command("status").
		flag("-A", opt.All).
		flag("-m", opt.Modified).
		flag("-a", opt.Added).
		flag("-r", opt.Removed).
		flag("-d", opt.Missing).
		flag("-c", opt.Clean).
		flag("-u", opt.Untracked).
		flag("-i", opt.Ignored).
		flag("-C", opt.Copies).
		values("--rev", opt.Revs).
		value("--change", opt.Change).
		flag("-S", opt.SubRepos).
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		flag("-0", true).
		add(files...)
	out, err := r.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseStatus(out)
}

func parseStatus(out []byte) ([]StatusEntry, error) {
	var entries []StatusEntry
	for _, entry := range strings.Split(string(out), "\x00") {
		if entry == "" {
			continue
		}
		if len(entry) < 3 || entry[1] != ' ' {
			return nil, fmt.Errorf("hg: bad status entry %q", entry)
		}
		status := Status(entry[0])
		switch status {
		case StatusModified, StatusAdded, StatusRemoved, StatusClean,
			StatusMissing, StatusUntracked, StatusIgnored, StatusOrigin:
		default:
			return nil, fmt.Errorf("hg: bad status code %q", entry[0])
		}
		entries = append(entries, StatusEntry{Status: status, Name: entry[2:]})
	}
	return entries, nil
}

// CommitOptions control Commit.
type CommitOptions struct {
	// AddRemove marks new and missing files before committing.
	AddRemove bool
	// CloseBranch marks the branch head as closed.
	CloseBranch bool
	// Amend folds the working directory changes into the parent
	// changeset instead of creating a new one.
	Amend bool
	// Date records the given time instead of now.
	Date time.Time
	// User records the given user instead of the configured one.
	User string
	// Logfile reads the commit message from a file. The message
	// argument must be empty then.
	Logfile string
	// Files restricts the commit to the named files.
	Files []string

	SubRepos bool
	Include  []string
	Exclude  []string
}

// Commit commits outstanding changes and returns the new changeset.
func (r *Repository) Commit(ctx context.Context, message string, opt *CommitOptions) (*Changeset, error) {
	if opt == nil {
		opt = &CommitOptions{}
	}
	if (message == "") == (opt.Logfile == "") {
		return nil, errors.New("hg: commit needs either a message or a logfile")
	}

	args := command("commit").
		flag("--debug", true).
		value("-m", message).
		value("-l", opt.Logfile).
		flag("-A", opt.AddRemove).
		flag("--close-branch", opt.CloseBranch).
		flag("--amend", opt.Amend).
		time("-d", opt.Date).
		value("-u", opt.User).
		flag("-S", opt.SubRepos).
		values("-I", opt.Include).
		values("-X", opt.Exclude).
		add(opt.Files...)
	out, err := r.run(ctx, args)
	if err != nil {
		return nil, err
	}
	rev, node, err := parseCommitOutput(out)
	if err != nil {
		return nil, err
	}
	return r.getLazy(rev, node), nil
}

// parseCommitOutput finds the "committed changeset REV:NODE" line the
// debug switch adds, scanning from the end because hooks and verbose
// extensions may print after it.
func parseCommitOutput(out []byte) (int, string, error) {
	const marker = "committed changeset "

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		j := strings.Index(lines[i], marker)
		if j < 0 {
			continue
		}
		line := lines[i][j+len(marker):]
		k := strings.IndexByte(line, ':')
		if k < 0 {
			break
		}
		rev, err := strconv.Atoi(line[:k])
		if err != nil {
			break
		}
		return rev, strings.TrimSpace(line[k+1:]), nil
	}
	return 0, "", fmt.Errorf("hg: cannot find committed changeset in %q", firstLine(out))
}

// UpdateResult counts the files touched by an update.
type UpdateResult struct {
	Updated    int
	Merged     int
	Removed    int
	Unresolved int
}

// UpdateOptions control Update.
type UpdateOptions struct {
	// Rev is the revision to update to. Empty updates to the tip of
	// the current branch.
	Rev string
	// Clean discards uncommitted changes without backup.
	Clean bool
	// Check refuses to update when there are uncommitted changes.
	Check bool
	// Date updates to the tipmost revision matching the date.
	Date time.Time
}

// Update updates the working directory to another changeset.
func (r *Repository) Update(ctx context.Context, opt *UpdateOptions) (UpdateResult, error) {
	if opt == nil {
		opt = &UpdateOptions{}
	}
	if opt.Clean && opt.Check {
		return UpdateResult{}, errors.New("hg: update takes either Clean or Check, not both")
	}
	if opt.Rev != "" && !opt.Date.IsZero() {
		return UpdateResult{}, errors.New("hg: update takes either Rev or Date, not both")
	}
	args := command("update").
		value("-r", opt.Rev).
		flag("-C", opt.Clean).
		flag("-c", opt.Check).
		time("-d", opt.Date)
	out, err := r.run(ctx, args)
	if err != nil {
		return UpdateResult{}, err
	}
	return parseUpdateResult(out)
}

var updateResultRE = regexp.MustCompile(`(\d+) files (updated|merged|removed|unresolved)`)

func parseUpdateResult(out []byte) (UpdateResult, error) {
	matches := updateResultRE.FindAllSubmatch(out, -1)
	if matches == nil {
		return UpdateResult{}, fmt.Errorf("hg: cannot parse update result from %q", firstLine(out))
	}
	var res UpdateResult
	for _, m := range matches {
		n, _ := strconv.Atoi(string(m[1]))
		switch string(m[2]) {
		case "updated":
			res.Updated = n
		case "merged":
			res.Merged = n
		case "removed":
			res.Removed = n
		case "unresolved":
			res.Unresolved = n
		}
	}
	return res, nil
}

// PullOptions control Pull.
type PullOptions struct {
	// Update also updates the working directory to the new tip.
	Update bool
	// Force runs even when the source repository is unrelated.
	Force bool
	// Revs limits the pull to the given remote changesets.
	Revs []string
	// Bookmarks pulls the given bookmarks.
	Bookmarks []string
	// Branches limits the pull to the given branches.
	Branches []string
	// SSH is the ssh command to use.
	SSH string
	// RemoteCmd is the hg command to run on the remote side.
	RemoteCmd string
	// Insecure skips verification of the server certificate.
	Insecure bool
}

// Pull pulls changes from source, or from the default pull path when
// source is empty.
func (r *Repository) Pull(ctx context.Context, source string, opt *PullOptions) (bool, error) {
	if opt == nil {
		opt = &PullOptions{}
	}
	args := command("pull").
		flag("-u", opt.Update).
		flag("-f", opt.Force).
		values("-r", opt.Revs).
		values("-B", opt.Bookmarks).
		values("-b", opt.Branches).
		value("-e", opt.SSH).
		value("--remotecmd", opt.RemoteCmd).
		flag("--insecure", opt.Insecure)
	if source != "" {
		args = args.add(source)
	}
	return r.runBool(ctx, args)
}

// PushOptions control Push.
type PushOptions struct {
	// Force pushes even when that creates new remote heads.
	Force bool
	// NewBranch allows pushing a new branch.
	NewBranch bool
	// Revs limits the push to the given changesets and their
	// ancestors.
	Revs []string
	// Bookmarks pushes the given bookmarks.
	Bookmarks []string
	// Branches limits the push to the given branches.
	Branches []string
	// SSH is the ssh command to use.
	SSH string
	// RemoteCmd is the hg command to run on the remote side.
	RemoteCmd string
	// Insecure skips verification of the server certificate.
	Insecure bool
}

// Push pushes changes to dest, or to the default push path when dest
// is empty. It reports false when there was nothing to push.
func (r *Repository) Push(ctx context.Context, dest string, opt *PushOptions) (bool, error) {
	if opt == nil {
		opt = &PushOptions{}
	}
	args := command("push").
		flag("-f", opt.Force).
		flag("--new-branch", opt.NewBranch).
		values("-r", opt.Revs).
		values("-B", opt.Bookmarks).
		values("-b", opt.Branches).
		value("-e", opt.SSH).
		value("--remotecmd", opt.RemoteCmd).
		flag("--insecure", opt.Insecure)
	if dest != "" {
		args = args.add(dest)
	}
	return r.runBool(ctx, args)
}

func firstLine(out []byte) []byte {
	if i := bytes.IndexByte(out, '\n'); i >= 0 {
		return out[:i]
	}
	return out
}
