package hg

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-hg/hg/diff"
)

// Phase is a changeset phase.
type Phase int

const (
	Public Phase = iota
	Draft
	Secret
)

func (p Phase) String() string {
	switch p {
	case Draft:
		return "draft"
	case Secret:
		return "secret"
	default:
		return "public"
	}
}

func parsePhase(s string) (Phase, error) {
	switch s {
	case "public":
		return Public, nil
	case "draft":
		return Draft, nil
	case "secret":
		return Secret, nil
	}
	return 0, fmt.Errorf("hg: unknown phase %q", s)
}

// Changeset is one revision of a repository. Changesets obtained
// through the same Repository are shared: asking for the same node
// twice yields the same instance as long as it stays in the repository
// cache.
//
// Rev and Node are always available. The remaining fields are fetched
// from the repository on first access; Load fetches them eagerly.
type Changeset struct {
	repo *Repository

	rev  int
	node string

	mu      sync.Mutex
	fetched bool
	tags    []string
	branch  string
	author  string
	desc    string
	date    time.Time
	p1rev   int
	p1node  string
	p2rev   int
	p2node  string
	phase   Phase
}

// Rev returns the local revision number.
func (cs *Changeset) Rev() int {
	return cs.rev
}

// Node returns the full 40 character changeset hash.
func (cs *Changeset) Node() string {
	return cs.node
}

func (cs *Changeset) String() string {
	return fmt.Sprintf("Changeset<%d:%.12s>", cs.rev, cs.node)
}

// Load fetches the changeset fields if they have not been fetched yet.
func (cs *Changeset) Load(ctx context.Context) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.loadLocked(ctx)
}

func (cs *Changeset) loadLocked(ctx context.Context) error {
	if cs.fetched {
		return nil
	}
	infos, err := cs.repo.fetchInfo(ctx, "id("+cs.node+")", 2)
	if err != nil {
		return err
	}
	if len(infos) != 1 {
		return fmt.Errorf("hg: %q does not identify a changeset", cs.node)
	}
	return cs.initLocked(infos[0])
}

func (cs *Changeset) init(info []string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.initLocked(info)
}

func (cs *Changeset) initLocked(info []string) error {
	date, err := parseDate(info[6])
	if err != nil {
		return fmt.Errorf("hg: bad changeset date %q", info[6])
	}
	p1rev, err := strconv.Atoi(info[7])
	if err != nil {
		return fmt.Errorf("hg: bad parent revision %q", info[7])
	}
	p2rev, err := strconv.Atoi(info[9])
	if err != nil {
		return fmt.Errorf("hg: bad parent revision %q", info[9])
	}
	phase, err := parsePhase(info[11])
	if err != nil {
		return err
	}

	cs.tags = strings.Fields(info[2])
	cs.branch = info[3]
	cs.author = info[4]
	cs.desc = info[5]
	cs.date = date
	cs.p1rev = p1rev
	cs.p1node = info[8]
	cs.p2rev = p2rev
	cs.p2node = info[10]
	cs.phase = phase
	cs.fetched = true
	return nil
}

// Tags returns the tags attached to the changeset.
func (cs *Changeset) Tags(ctx context.Context) ([]string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.loadLocked(ctx); err != nil {
		return nil, err
	}
	return append([]string(nil), cs.tags...), nil
}

// Branch returns the branch the changeset was committed on.
func (cs *Changeset) Branch(ctx context.Context) (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.loadLocked(ctx); err != nil {
		return "", err
	}
	return cs.branch, nil
}

// Author returns the recorded author, usually "Name <email>".
func (cs *Changeset) Author(ctx context.Context) (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.loadLocked(ctx); err != nil {
		return "", err
	}
	return cs.author, nil
}

// Description returns the full commit message.
func (cs *Changeset) Description(ctx context.Context) (string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.loadLocked(ctx); err != nil {
		return "", err
	}
	return cs.desc, nil
}

// Date returns the commit date in the committer's timezone.
func (cs *Changeset) Date(ctx context.Context) (time.Time, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.loadLocked(ctx); err != nil {
		return time.Time{}, err
	}
	return cs.date, nil
}

// Phase returns the changeset phase.
func (cs *Changeset) Phase(ctx context.Context) (Phase, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if err := cs.loadLocked(ctx); err != nil {
		return 0, err
	}
	return cs.phase, nil
}

// Parents returns the changeset's parents: none for a root changeset,
// two for a merge.
func (cs *Changeset) Parents(ctx context.Context) ([]*Changeset, error) {
	cs.mu.Lock()
	if err := cs.loadLocked(ctx); err != nil {
		cs.mu.Unlock()
		return nil, err
	}
	p1rev, p1node := cs.p1rev, cs.p1node
	p2rev, p2node := cs.p2rev, cs.p2node
	cs.mu.Unlock()

	if p1rev == -1 {
		return nil, nil
	}
	parents := []*Changeset{cs.repo.getLazy(p1rev, p1node)}
	if p2rev != -1 {
		parents = append(parents, cs.repo.getLazy(p2rev, p2node))
	}
	return parents, nil
}

// Children returns the set of the changeset's children.
func (cs *Changeset) Children() *RevSet {
	return cs.repo.Changesets().ChildrenOf(cs)
}

// Ancestors returns the set of the changeset's ancestors, not counting
// the changeset itself.
func (cs *Changeset) Ancestors() *RevSet {
	return cs.repo.newSet(fmt.Sprintf("ancestors(id(%s)) and not id(%s)", cs.node, cs.node))
}

// Descendants returns the set of the changeset's descendants, not
// counting the changeset itself.
func (cs *Changeset) Descendants() *RevSet {
	return cs.repo.newSet(fmt.Sprintf("descendants(id(%s)) and not id(%s)", cs.node, cs.node))
}

// Changes returns the changes the changeset introduced, parsed from its
// git format diff. Parsed change lists are cached by the repository.
func (cs *Changeset) Changes(ctx context.Context) ([]*diff.Change, error) {
	return cs.repo.Changes(ctx, nil, &DiffOptions{Change: cs.node})
}

// Open streams the contents of a file as of this changeset. The data
// flows through a dedicated hg process, leaving the server connection
// free.
func (cs *Changeset) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return cs.repo.client.StreamFile(ctx, name, cs.node)
}

// SetPhase moves the changeset to the given phase. Moving backwards,
// for example public to draft, requires force. It reports false when hg
// refused the move.
func (cs *Changeset) SetPhase(ctx context.Context, phase Phase, force bool) (bool, error) {
	args := command("phase").
		flag("-p", phase == Public).
		flag("-d", phase == Draft).
		flag("-s", phase == Secret).
		flag("-f", force).
		add("-r", cs.node)
	ok, err := cs.repo.runBool(ctx, args)
	if err != nil || !ok {
		return ok, err
	}

	cs.mu.Lock()
	if cs.fetched {
		cs.phase = phase
	}
	cs.mu.Unlock()
	return true, nil
}

// parseDate converts a raw changeset date, unix seconds followed by the
// zone offset in seconds west of UTC, into a time carrying a fixed
// zone. A missing or malformed offset falls back to UTC.
func parseDate(s string) (time.Time, error) {
	secs, zone := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		secs, zone = s[:i], s[i+1:]
	}
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Unix(n, 0).UTC()
	if off, err := strconv.Atoi(zone); err == nil && off != 0 {
		t = t.In(time.FixedZone("", -off))
	}
	return t, nil
}

// hgDate renders t in hg's internal "unixtime offset" date format,
// which every date-taking hg option accepts.
func hgDate(t time.Time) string {
	_, offset := t.Zone()
	return fmt.Sprintf("%d %d", t.Unix(), -offset)
}
