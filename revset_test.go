package hg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHg(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "hg")
}

// specRepo opens a repository over an empty .hg directory with a stub
// hg binary, enough for everything that never runs a command.
func specRepo() *Repository {
	dir, err := os.MkdirTemp("", "hg-spec")
	Expect(err).NotTo(HaveOccurred())
	Expect(os.Mkdir(filepath.Join(dir, ".hg"), 0o755)).To(Succeed())

	repo, err := Open(&Options{Path: dir, HgPath: "/bin/true"})
	Expect(err).NotTo(HaveOccurred())
	return repo
}

func closeRepo(repo *Repository) {
	Expect(repo.Close()).NotTo(HaveOccurred())
	Expect(os.RemoveAll(repo.Path())).To(Succeed())
}

var _ = Describe("RevSet", func() {
	var repo *Repository

	BeforeEach(func() {
		repo = specRepo()
	})

	AfterEach(func() {
		closeRepo(repo)
	})

	It("selects everything by default", func() {
		Expect(repo.Changesets().String()).To(Equal("all()"))
	})

	It("conjoins conditions", func() {
		set := repo.Changesets().Branch("default").Author("bob")
		Expect(set.String()).To(Equal("branch('default') and author('bob')"))
	})

	It("does not mutate the set it derives from", func() {
		base := repo.Changesets().Branch("default")
		_ = base.Author("bob")
		_ = base.Heads()
		Expect(base.String()).To(Equal("branch('default')"))
	})

	It("escapes quotes in arguments", func() {
		set := repo.Changesets().Author("o'brien")
		Expect(set.String()).To(Equal(`author('o\'brien')`))
	})

	It("builds file and keyword conditions", func() {
		set := repo.Changesets().File("glob:**.go").Keyword("fix")
		Expect(set.String()).To(Equal("file('glob:**.go') and keyword('fix')"))

		Expect(repo.Changesets().Modifies("a.txt").String()).To(Equal("modifies('a.txt')"))
		Expect(repo.Changesets().Adds("b.txt").String()).To(Equal("adds('b.txt')"))
		Expect(repo.Changesets().Removes("c.txt").String()).To(Equal("removes('c.txt')"))
		Expect(repo.Changesets().Grep(`fix(ed)?`).String()).To(Equal("grep('fix(ed)?')"))
	})

	It("builds identity conditions", func() {
		node := strings.Repeat("a", 40)
		Expect(repo.Changesets().ID(node).String()).To(Equal("id(" + node + ")"))
		Expect(repo.Changesets().Rev(7).String()).To(Equal("rev(7)"))
	})

	It("builds state conditions", func() {
		set := repo.Changesets().Head().Merge().Closed()
		Expect(set.String()).To(Equal("head() and merge() and closed()"))

		set = repo.Changesets().Public().Or(repo.Changesets().Draft()).Or(repo.Changesets().Secret())
		Expect(set.String()).To(Equal("((public() or draft()) or secret())"))
	})

	It("builds date conditions", func() {
		at := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
		Expect(repo.Changesets().Date(at).String()).
			To(Equal("date('2021-03-04T05:06:07')"))
		Expect(repo.Changesets().DateBefore(at).String()).
			To(Equal("(date(<'2021-03-04T05:06:07') and not date('2021-03-04T05:06:07'))"))
		Expect(repo.Changesets().DateAfter(at).String()).
			To(Equal("(date(>'2021-03-04T05:06:07') and not date('2021-03-04T05:06:07'))"))

		to := at.Add(48 * time.Hour)
		Expect(repo.Changesets().DateRange(at, to).String()).
			To(Equal("date('2021-03-04T05:06:07 to 2021-03-06T05:06:07')"))

		Expect(repo.Changesets().NewerThanDays(30).String()).To(Equal("date(-30)"))
		Expect(repo.Changesets().OlderThanDays(30).String()).To(Equal("not date(-30)"))
	})

	It("builds graph conditions from a changeset", func() {
		node := strings.Repeat("7", 40)
		cs := repo.getLazy(3, node)

		Expect(repo.Changesets().ChildrenOf(cs).String()).To(Equal("children(id(" + node + "))"))
		Expect(repo.Changesets().ParentsOf(cs).String()).To(Equal("parents(id(" + node + "))"))
		Expect(repo.Changesets().AncestorsOf(cs).String()).To(Equal("ancestors(id(" + node + "))"))
		Expect(repo.Changesets().DescendantsOf(cs).String()).To(Equal("descendants(id(" + node + "))"))
	})

	It("builds ranges with open ends", func() {
		first := repo.getLazy(1, strings.Repeat("1", 40))
		last := repo.getLazy(9, strings.Repeat("9", 40))

		Expect(repo.Changesets().Between(first, last).String()).
			To(Equal("id(" + first.Node() + ")::id(" + last.Node() + ")"))
		Expect(repo.Changesets().Between(nil, last).String()).
			To(Equal("::id(" + last.Node() + ")"))
		Expect(repo.Changesets().Between(first, nil).String()).
			To(Equal("id(" + first.Node() + ")::"))
		Expect(repo.Changesets().Between(nil, nil).String()).To(Equal("all()"))
	})

	It("wraps the set with transforms", func() {
		set := repo.Changesets().Branch("default")
		Expect(set.Heads().String()).To(Equal("heads(branch('default'))"))
		Expect(set.Roots().String()).To(Equal("roots(branch('default'))"))
		Expect(set.Ancestors().String()).To(Equal("ancestors(branch('default'))"))
		Expect(set.Descendants().String()).To(Equal("descendants(branch('default'))"))
		Expect(set.Children().String()).To(Equal("children(branch('default'))"))
		Expect(set.Parents().String()).To(Equal("parents(branch('default'))"))
		Expect(set.Newest().String()).To(Equal("max(branch('default'))"))
		Expect(set.Oldest().String()).To(Equal("min(branch('default'))"))
		Expect(set.Reverse().String()).To(Equal("reverse(branch('default'))"))
	})

	It("selects parents with the caret operator", func() {
		set := repo.Changesets().Merge()
		Expect(set.FirstParents().String()).To(Equal("(merge())^1"))
		Expect(set.SecondParents().String()).To(Equal("(merge())^2"))
	})

	It("limits the set", func() {
		Expect(repo.Changesets().First(5).String()).To(Equal("first(all(), 5)"))
		Expect(repo.Changesets().Last(5).String()).To(Equal("last(all(), 5)"))
		Expect(repo.Changesets().Last(5).Reverse().String()).To(Equal("reverse(last(all(), 5))"))
	})

	It("sorts by known keys", func() {
		Expect(repo.Changesets().SortBy("-date", "user").String()).
			To(Equal("sort(all(), -date, user)"))
		Expect(repo.Changesets().SortBy().String()).To(Equal("sort(all())"))
		Expect(func() {
			repo.Changesets().SortBy("shoe-size")
		}).To(Panic())
	})

	It("combines sets", func() {
		a := repo.Changesets().Branch("default")
		b := repo.Changesets().Author("bob")

		Expect(a.And(b).String()).To(Equal("branch('default') and author('bob')"))
		Expect(a.Or(b).String()).To(Equal("(branch('default') or author('bob'))"))
		Expect(a.Sub(b).String()).To(Equal("((branch('default')) - (author('bob')))"))
		Expect(a.Not().String()).To(Equal("not (branch('default'))"))
	})

	It("keeps conjunction out of a union", func() {
		a := repo.Changesets().Branch("default")
		b := repo.Changesets().Author("bob")

		set := a.Or(b).Tag("v1")
		Expect(set.String()).To(Equal("(branch('default') or author('bob')) and tag('v1')"))
	})

	It("refuses to combine sets from different repositories", func() {
		other := specRepo()
		defer closeRepo(other)

		Expect(func() {
			repo.Changesets().And(other.Changesets())
		}).To(Panic())
	})

	It("exposes repository heads as a set", func() {
		Expect(repo.Heads().String()).To(Equal("heads(all())"))
	})
})

var _ = Describe("Query placeholders", func() {
	var repo *Repository

	BeforeEach(func() {
		repo = specRepo()
	})

	AfterEach(func() {
		closeRepo(repo)
	})

	It("passes expressions without placeholders through", func() {
		got, err := expandQuery("head() and not closed()", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("head() and not closed()"))
	})

	It("quotes and escapes strings", func() {
		got, err := expandQuery("author(%0)", []interface{}{"o'brien"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(`author('o\'brien')`))
	})

	It("expands changesets to id queries", func() {
		node := strings.Repeat("b", 40)
		cs := repo.getLazy(2, node)

		got, err := expandQuery("children(%0)", []interface{}{cs})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("children(id(" + node + "))"))
	})

	It("expands times to quoted stamps", func() {
		at := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
		got, err := expandQuery("date(%0)", []interface{}{at})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("date('2021-03-04T05:06:07')"))
	})

	It("expands ints bare and revsets parenthesized", func() {
		set := repo.Changesets().Branch("default")
		got, err := expandQuery("%0 and limit(%1, %2)", []interface{}{set, set, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("(branch('default')) and limit((branch('default')), 3)"))
	})

	It("keeps literal percent signs", func() {
		got, err := expandQuery("grep('100%%')", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("grep('100%')"))
	})

	It("expands the same argument used twice", func() {
		got, err := expandQuery("%0::%0", []interface{}{"tip"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal("'tip'::'tip'"))
	})

	It("rejects out of range placeholders", func() {
		_, err := expandQuery("rev(%1)", []interface{}{1})
		Expect(err).To(MatchError(ContainSubstring("out of range")))
	})

	It("rejects named placeholders", func() {
		_, err := expandQuery("branch(%name)", []interface{}{"default"})
		Expect(err).To(MatchError(ContainSubstring("unknown query placeholder")))
	})

	It("rejects arguments it cannot render", func() {
		_, err := expandQuery("rev(%0)", []interface{}{3.14})
		Expect(err).To(MatchError(ContainSubstring("cannot use float64")))
	})
})
