package hg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// revsetTimeLayout renders times the way hg revset date predicates
// expect them.
const revsetTimeLayout = "2006-01-02T15:04:05"

// RevSet is a lazy, immutable query over a repository's changesets.
// Builder methods derive new sets and never talk to the repository;
// only All, Count and One run the compiled revset expression.
//
// Sets can only be combined when they were built from the same
// Repository instance.
type RevSet struct {
	repo  *Repository
	terms []string
}

// Changesets returns the set of all changesets in the repository.
func (r *Repository) Changesets() *RevSet {
	return &RevSet{repo: r}
}

// Heads returns the set of repository heads.
func (r *Repository) Heads() *RevSet {
	return r.Changesets().Heads()
}

func (r *Repository) newSet(expr string) *RevSet {
	return &RevSet{repo: r, terms: []string{expr}}
}

// String returns the revset expression the set compiles to.
func (s *RevSet) String() string {
	if len(s.terms) == 0 {
		return "all()"
	}
	return strings.Join(s.terms, " and ")
}

func (s *RevSet) derive(terms []string) *RevSet {
	return &RevSet{repo: s.repo, terms: terms}
}

// where conjoins a self-contained term onto the set.
func (s *RevSet) where(term string) *RevSet {
	terms := make([]string, len(s.terms), len(s.terms)+1)
	copy(terms, s.terms)
	return s.derive(append(terms, term))
}

// wrap rewrites the whole set as fn(set).
func (s *RevSet) wrap(fn string) *RevSet {
	return s.derive([]string{fn + "(" + s.String() + ")"})
}

func (s *RevSet) check(other *RevSet) {
	if s.repo != other.repo {
		panic("hg: revsets belong to different repositories")
	}
}

func escapeQuote(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

func quoted(s string) string {
	return "'" + escapeQuote(s) + "'"
}

// Author keeps changesets whose author contains name.
func (s *RevSet) Author(name string) *RevSet {
	return s.where("author(" + quoted(name) + ")")
}

// Branch keeps changesets on the named branch.
func (s *RevSet) Branch(name string) *RevSet {
	return s.where("branch(" + quoted(name) + ")")
}

// Tag keeps changesets carrying the named tag.
func (s *RevSet) Tag(name string) *RevSet {
	return s.where("tag(" + quoted(name) + ")")
}

// Bookmark keeps changesets carrying the named bookmark.
func (s *RevSet) Bookmark(name string) *RevSet {
	return s.where("bookmark(" + quoted(name) + ")")
}

// Desc keeps changesets whose description contains text.
func (s *RevSet) Desc(text string) *RevSet {
	return s.where("desc(" + quoted(text) + ")")
}

// Keyword keeps changesets whose author, description or touched file
// names contain text.
func (s *RevSet) Keyword(text string) *RevSet {
	return s.where("keyword(" + quoted(text) + ")")
}

// Grep keeps changesets matching the given regular expression the way
// keyword matches substrings.
func (s *RevSet) Grep(pattern string) *RevSet {
	return s.where("grep(" + quoted(pattern) + ")")
}

// File keeps changesets touching a file matching pattern.
func (s *RevSet) File(pattern string) *RevSet {
	return s.where("file(" + quoted(pattern) + ")")
}

// Modifies keeps changesets modifying a file matching pattern.
func (s *RevSet) Modifies(pattern string) *RevSet {
	return s.where("modifies(" + quoted(pattern) + ")")
}

// Adds keeps changesets adding a file matching pattern.
func (s *RevSet) Adds(pattern string) *RevSet {
	return s.where("adds(" + quoted(pattern) + ")")
}

// Removes keeps changesets removing a file matching pattern.
func (s *RevSet) Removes(pattern string) *RevSet {
	return s.where("removes(" + quoted(pattern) + ")")
}

// ID keeps the changeset with the given hash.
func (s *RevSet) ID(node string) *RevSet {
	return s.where("id(" + node + ")")
}

// Rev keeps the changeset with the given revision number.
func (s *RevSet) Rev(rev int) *RevSet {
	return s.where("rev(" + strconv.Itoa(rev) + ")")
}

// Head keeps changesets that are heads.
func (s *RevSet) Head() *RevSet {
	return s.where("head()")
}

// Merge keeps changesets that are merges.
func (s *RevSet) Merge() *RevSet {
	return s.where("merge()")
}

// Closed keeps changesets that close their branch.
func (s *RevSet) Closed() *RevSet {
	return s.where("closed()")
}

// Public keeps changesets in the public phase.
func (s *RevSet) Public() *RevSet {
	return s.where("public()")
}

// Draft keeps changesets in the draft phase.
func (s *RevSet) Draft() *RevSet {
	return s.where("draft()")
}

// Secret keeps changesets in the secret phase.
func (s *RevSet) Secret() *RevSet {
	return s.where("secret()")
}

// Date keeps changesets committed at the given second.
func (s *RevSet) Date(t time.Time) *RevSet {
	return s.where("date(" + quoted(t.Format(revsetTimeLayout)) + ")")
}

// DateBefore keeps changesets committed strictly before t.
func (s *RevSet) DateBefore(t time.Time) *RevSet {
	stamp := quoted(t.Format(revsetTimeLayout))
	return s.where("(date(<" + stamp + ") and not date(" + stamp + "))")
}

// DateAfter keeps changesets committed strictly after t.
func (s *RevSet) DateAfter(t time.Time) *RevSet {
	stamp := quoted(t.Format(revsetTimeLayout))
	return s.where("(date(>" + stamp + ") and not date(" + stamp + "))")
}

// DateRange keeps changesets committed between from and to, inclusive.
func (s *RevSet) DateRange(from, to time.Time) *RevSet {
	return s.where("date(" + quoted(from.Format(revsetTimeLayout)+" to "+to.Format(revsetTimeLayout)) + ")")
}

// NewerThanDays keeps changesets committed within the last n days.
func (s *RevSet) NewerThanDays(n int) *RevSet {
	return s.where(fmt.Sprintf("date(-%d)", n))
}

// OlderThanDays keeps changesets committed more than n days ago.
func (s *RevSet) OlderThanDays(n int) *RevSet {
	return s.where(fmt.Sprintf("not date(-%d)", n))
}

// AncestorsOf keeps ancestors of cs, including cs itself.
func (s *RevSet) AncestorsOf(cs *Changeset) *RevSet {
	return s.where("ancestors(id(" + cs.node + "))")
}

// DescendantsOf keeps descendants of cs, including cs itself.
func (s *RevSet) DescendantsOf(cs *Changeset) *RevSet {
	return s.where("descendants(id(" + cs.node + "))")
}

// ChildrenOf keeps the direct children of cs.
func (s *RevSet) ChildrenOf(cs *Changeset) *RevSet {
	return s.where("children(id(" + cs.node + "))")
}

// ParentsOf keeps the direct parents of cs.
func (s *RevSet) ParentsOf(cs *Changeset) *RevSet {
	return s.where("parents(id(" + cs.node + "))")
}

// Between keeps the changesets on the DAG range from first to last. A
// nil end leaves that side of the range open.
func (s *RevSet) Between(first, last *Changeset) *RevSet {
	switch {
	case first == nil && last == nil:
		return s
	case first == nil:
		return s.where("::id(" + last.node + ")")
	case last == nil:
		return s.where("id(" + first.node + ")::")
	}
	return s.where("id(" + first.node + ")::id(" + last.node + ")")
}

// Ancestors rewrites the set as the ancestors of its members,
// including the members themselves.
func (s *RevSet) Ancestors() *RevSet {
	return s.wrap("ancestors")
}

// Descendants rewrites the set as the descendants of its members,
// including the members themselves.
func (s *RevSet) Descendants() *RevSet {
	return s.wrap("descendants")
}

// Children rewrites the set as the direct children of its members.
func (s *RevSet) Children() *RevSet {
	return s.wrap("children")
}

// Parents rewrites the set as the direct parents of its members.
func (s *RevSet) Parents() *RevSet {
	return s.wrap("parents")
}

// FirstParents rewrites the set as the first parents of its members.
func (s *RevSet) FirstParents() *RevSet {
	return s.derive([]string{"(" + s.String() + ")^1"})
}

// SecondParents rewrites the set as the second parents of its merge
// members.
func (s *RevSet) SecondParents() *RevSet {
	return s.derive([]string{"(" + s.String() + ")^2"})
}

// Heads keeps members with no children in the set.
func (s *RevSet) Heads() *RevSet {
	return s.wrap("heads")
}

// Roots keeps members with no parents in the set.
func (s *RevSet) Roots() *RevSet {
	return s.wrap("roots")
}

// Newest keeps the member with the highest revision.
func (s *RevSet) Newest() *RevSet {
	return s.wrap("max")
}

// Oldest keeps the member with the lowest revision.
func (s *RevSet) Oldest() *RevSet {
	return s.wrap("min")
}

// Reverse flips the order of the set.
func (s *RevSet) Reverse() *RevSet {
	return s.wrap("reverse")
}

// First keeps the first n members of the set.
func (s *RevSet) First(n int) *RevSet {
	return s.derive([]string{fmt.Sprintf("first(%s, %d)", s.String(), n)})
}

// Last keeps the last n members of the set.
func (s *RevSet) Last(n int) *RevSet {
	return s.derive([]string{fmt.Sprintf("last(%s, %d)", s.String(), n)})
}

var sortKeys = map[string]bool{
	"rev":    true,
	"branch": true,
	"desc":   true,
	"user":   true,
	"date":   true,
	"files":  true,
}

// SortBy orders the set by the given keys: rev, branch, desc, user,
// date or files, each optionally prefixed with "-" to reverse. It
// panics on an unknown key.
func (s *RevSet) SortBy(keys ...string) *RevSet {
	for _, key := range keys {
		if !sortKeys[strings.TrimPrefix(key, "-")] {
			panic("hg: unknown sort key " + strconv.Quote(key))
		}
	}
	if len(keys) == 0 {
		return s.wrap("sort")
	}
	return s.derive([]string{"sort(" + s.String() + ", " + strings.Join(keys, ", ") + ")"})
}

// Not rewrites the set as its complement.
func (s *RevSet) Not() *RevSet {
	return s.derive([]string{"not (" + s.String() + ")"})
}

// And intersects two sets.
func (s *RevSet) And(other *RevSet) *RevSet {
	s.check(other)
	terms := make([]string, 0, len(s.terms)+len(other.terms))
	terms = append(terms, s.terms...)
	terms = append(terms, other.terms...)
	return s.derive(terms)
}

// Or unions two sets.
func (s *RevSet) Or(other *RevSet) *RevSet {
	s.check(other)
	return s.derive([]string{"(" + s.String() + " or " + other.String() + ")"})
}

// Sub removes the members of other from the set.
func (s *RevSet) Sub(other *RevSet) *RevSet {
	s.check(other)
	return s.derive([]string{"((" + s.String() + ") - (" + other.String() + "))"})
}

// All runs the query and returns the matching changesets in revset
// order, fully loaded.
func (s *RevSet) All(ctx context.Context) ([]*Changeset, error) {
	return s.repo.fetchAll(ctx, s.String())
}

// Count returns the number of matching changesets.
func (s *RevSet) Count(ctx context.Context) (int, error) {
	infos, err := s.repo.fetchInfo(ctx, s.String(), 0)
	if err != nil {
		return 0, err
	}
	return len(infos), nil
}

// One runs the query and requires exactly one match.
func (s *RevSet) One(ctx context.Context) (*Changeset, error) {
	return s.repo.fetchOne(ctx, s.String())
}
