package hg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BranchesOptions control Branches.
type BranchesOptions struct {
	// Active restricts the result to branches with unmerged heads.
	Active bool
	// Closed includes closed branches.
	Closed bool
}

// Branches returns the repository's branches mapped to their tip
// changesets.
func (r *Repository) Branches(ctx context.Context, opt *BranchesOptions) (map[string]*Changeset, error) {
	if opt == nil {
		opt = &BranchesOptions{}
	}
	args := command("branches").
		flag("-a", opt.Active).
		flag("-c", opt.Closed).
		flag("--debug", true)
	out, err := r.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return r.parseBranches(out)
}

func (r *Repository) parseBranches(out []byte) (map[string]*Changeset, error) {
	branches := make(map[string]*Changeset)
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, rev, node, err := parseNamedRev(line)
		if err != nil {
			return nil, err
		}
		branches[name] = r.getLazy(rev, node)
	}
	return branches, nil
}

// SetBranch marks the working directory as being on the named branch
// until the next commit. Switching to a name that already exists
// requires force.
func (r *Repository) SetBranch(ctx context.Context, name string, force bool) (bool, error) {
	args := command("branch").
		flag("-f", force).
		add(name)
	return r.runBool(ctx, args)
}

// Bookmarks returns the active bookmark, or "" when none is active, and
// all bookmarks mapped to their changesets.
func (r *Repository) Bookmarks(ctx context.Context) (string, map[string]*Changeset, error) {
	out, err := r.run(ctx, command("bookmarks").flag("--debug", true))
	if err != nil {
		return "", nil, err
	}
	return r.parseBookmarks(out)
}

func (r *Repository) parseBookmarks(out []byte) (string, map[string]*Changeset, error) {
	bookmarks := make(map[string]*Changeset)
	if strings.TrimSpace(string(out)) == "no bookmarks set" {
		return "", bookmarks, nil
	}

	var active string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		// The first three columns hold the active marker.
		if len(line) < 4 {
			return "", nil, fmt.Errorf("hg: bad bookmark line %q", line)
		}
		marker, rest := line[:3], line[3:]
		name, rev, node, err := parseNamedRev(rest)
		if err != nil {
			return "", nil, err
		}
		bookmarks[name] = r.getLazy(rev, node)
		if strings.Contains(marker, "*") {
			active = name
		}
	}
	return active, bookmarks, nil
}

// BookmarkOptions control SetBookmark.
type BookmarkOptions struct {
	// Rev places the bookmark on the given revision instead of the
	// working directory parent.
	Rev string
	// Force moves an existing bookmark of the same name.
	Force bool
}

// SetBookmark creates or moves a bookmark. A bookmark set without Rev
// becomes the active bookmark.
func (r *Repository) SetBookmark(ctx context.Context, name string, opt *BookmarkOptions) (bool, error) {
	if opt == nil {
		opt = &BookmarkOptions{}
	}
	args := command("bookmark").
		value("--rev", opt.Rev).
		flag("--force", opt.Force).
		add(name)
	return r.runBool(ctx, args)
}

// DeleteBookmark deletes a bookmark.
func (r *Repository) DeleteBookmark(ctx context.Context, name string) (bool, error) {
	return r.runBool(ctx, command("bookmark").add("-d", name))
}

// RenameBookmark renames a bookmark, keeping its position.
func (r *Repository) RenameBookmark(ctx context.Context, oldName, newName string) (bool, error) {
	return r.runBool(ctx, command("bookmark").add("-m", oldName, newName))
}

// Tag is one repository tag.
type Tag struct {
	Name      string
	Changeset *Changeset
	// Local marks tags that are neither versioned nor shared.
	Local bool
}

// Tags returns the repository's tags, newest first, including the
// floating tip tag.
func (r *Repository) Tags(ctx context.Context) ([]Tag, error) {
	out, err := r.run(ctx, command("tags").flag("-v", true).flag("--debug", true))
	if err != nil {
		return nil, err
	}
	return r.parseTags(out)
}

func (r *Repository) parseTags(out []byte) ([]Tag, error) {
	var tags []Tag
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		local := strings.HasSuffix(line, " local")
		if local {
			line = strings.TrimSuffix(line, " local")
		}
		name, rev, node, err := parseNamedRev(line)
		if err != nil {
			return nil, err
		}
		tags = append(tags, Tag{Name: name, Changeset: r.getLazy(rev, node), Local: local})
	}
	return tags, nil
}

// TagOptions control SetTag.
type TagOptions struct {
	// Rev tags the given revision instead of the working directory
	// parent.
	Rev string
	// Local makes an unversioned, unshared tag. Other tags create a
	// commit.
	Local bool
	// Force replaces an existing tag of the same name.
	Force bool
	// Message overrides the tag commit message.
	Message string
	// Date records the given time for the tag commit.
	Date time.Time
	// User records the given user for the tag commit.
	User string
}

// SetTag creates a tag pointing at a changeset.
func (r *Repository) SetTag(ctx context.Context, name string, opt *TagOptions) (bool, error) {
	if opt == nil {
		opt = &TagOptions{}
	}
	args := command("tag").
		value("-r", opt.Rev).
		flag("-l", opt.Local).
		flag("-f", opt.Force).
		value("-m", opt.Message).
		time("-d", opt.Date).
		value("-u", opt.User).
		add(name)
	return r.runBool(ctx, args)
}

// RemoveTag removes a tag. Removing a non-local tag creates a commit.
func (r *Repository) RemoveTag(ctx context.Context, name string, local bool) (bool, error) {
	args := command("tag").
		flag("-l", local).
		flag("--remove", true).
		add(name)
	return r.runBool(ctx, args)
}

// parseNamedRev splits the "name   rev:node" lines shared by the
// branches, tags and bookmarks formats. Names may contain spaces and a
// trailer such as " (inactive)" may follow the node.
func parseNamedRev(line string) (string, int, string, error) {
	i := strings.LastIndexByte(line, ':')
	if i < 0 {
		return "", 0, "", fmt.Errorf("hg: bad name list line %q", line)
	}
	head, tail := line[:i], line[i+1:]

	node := tail
	if j := strings.IndexByte(tail, ' '); j >= 0 {
		node = tail[:j]
	}

	j := strings.LastIndexByte(head, ' ')
	if j < 0 {
		return "", 0, "", fmt.Errorf("hg: bad name list line %q", line)
	}
	rev, err := strconv.Atoi(head[j+1:])
	if err != nil {
		return "", 0, "", fmt.Errorf("hg: bad name list line %q", line)
	}
	name := strings.TrimRight(head[:j], " ")
	return name, rev, node, nil
}
