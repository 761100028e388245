// Command hgchanges summarizes the files touched by a patch. It reads
// a patch from a file or stdin, or asks a repository for the changes
// of a revision.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-hg/hg"
	"github.com/go-hg/hg/diff"
)

var (
	repoPath = flag.String("repo", ".", "repository root")
	rev      = flag.String("rev", "", "summarize this revision instead of reading a patch")
	verbose  = flag.Bool("v", false, "print the hunks, not only the summary")
)

func main() {
	flag.Parse()

	changes, err := load()
	if err != nil {
		log.Fatal(err)
	}

	for _, change := range changes {
		summarize(change)
	}
}

func load() ([]*diff.Change, error) {
	if *rev != "" {
		repo, err := hg.Open(&hg.Options{Path: *repoPath})
		if err != nil {
			return nil, err
		}
		defer repo.Close()

		ctx := context.Background()
		cs, err := repo.Changeset(ctx, *rev)
		if err != nil {
			return nil, err
		}
		return cs.Changes(ctx)
	}

	name := flag.Arg(0)
	if name == "" || name == "-" {
		return diff.Parse(os.Stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return diff.Parse(f)
}

func summarize(change *diff.Change) {
	name := change.Dest
	if name == "" {
		name = change.Source
	}
	if change.Kind == diff.Rename || change.Kind == diff.Copy {
		name = change.Source + " -> " + change.Dest
	}

	if change.Binary {
		fmt.Printf("%-7s %s (binary", change.Kind, name)
		for _, hunk := range change.Hunks {
			if bin, ok := hunk.(*diff.BinaryHunk); ok && !bin.Reverse {
				fmt.Printf(" %s, %d bytes", bin.Method, bin.Size)
			}
		}
		fmt.Println(")")
	} else {
		var added, deleted int
		for _, hunk := range change.Hunks {
			text, ok := hunk.(*diff.TextHunk)
			if !ok {
				continue
			}
			for _, line := range text.Lines {
				switch line.Op {
				case '+':
					added++
				case '-':
					deleted++
				}
			}
		}
		fmt.Printf("%-7s %s (+%d -%d)\n", change.Kind, name, added, deleted)
	}

	if *verbose {
		fmt.Println(change)
	}
}
