// Command hglog prints the latest changesets of a repository, newest
// first, one line each.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/go-hg/hg"
)

var (
	repoPath   = flag.String("repo", ".", "repository root")
	limit      = flag.Int("n", 10, "number of changesets to print")
	branchName = flag.String("branch", "", "only changesets on this branch")
	authorName = flag.String("author", "", "only changesets by this author")
)

func main() {
	flag.Parse()

	repo, err := hg.Open(&hg.Options{Path: *repoPath})
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()

	set := repo.Changesets()
	if *branchName != "" {
		set = set.Branch(*branchName)
	}
	if *authorName != "" {
		set = set.Author(*authorName)
	}

	csets, err := set.Last(*limit).Reverse().All(ctx)
	if err != nil {
		log.Fatal(err)
	}

	for _, cs := range csets {
		author, err := cs.Author(ctx)
		if err != nil {
			log.Fatal(err)
		}
		date, err := cs.Date(ctx)
		if err != nil {
			log.Fatal(err)
		}
		desc, err := cs.Description(ctx)
		if err != nil {
			log.Fatal(err)
		}

		title := desc
		if i := strings.IndexByte(title, '\n'); i >= 0 {
			title = title[:i]
		}
		fmt.Printf("%d:%.12s  %s  %-20s  %s\n",
			cs.Rev(), cs.Node(), date.Format("2006-01-02"), author, title)
	}
}
