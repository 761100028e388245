package hg

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AnnotateOptions control Annotate. The annotation switches choose
// what each line is annotated with; when none is set the changeset is
// requested.
type AnnotateOptions struct {
	// Rev annotates the file as of the given revision.
	Rev string
	// NoFollow stops following copies and renames.
	NoFollow bool
	// Text treats all files as text.
	Text bool

	// User annotates lines with their author.
	User bool
	// Changeset annotates lines with the changeset that introduced
	// them.
	Changeset bool
	// Date annotates lines with the commit date.
	Date bool
	// File annotates lines with the file they came from.
	File bool
	// Line annotates lines with their originating line number.
	Line bool

	Include []string
	Exclude []string
}

// AnnotateLine is one output line of Annotate carrying the requested
// annotations.
type AnnotateLine struct {
	Text string

	User      string
	Changeset *Changeset
	Date      time.Time
	File      string
	Line      int
}

// Annotate reports, line by line, where the contents of files came
// from.
func (r *Repository) Annotate(ctx context.Context, files []string, opt *AnnotateOptions) ([]AnnotateLine, error) {
	if len(files) == 0 {
		return nil, errors.New("hg: annotate needs at least one file")
	}
	if opt == nil {
		opt = &AnnotateOptions{}
	}
	sel := *opt
	if !sel.User && !sel.Changeset && !sel.Date && !sel.File && !sel.Line {
		sel.Changeset = true
	}

	args := command("annotate").
		flag("--debug", true).
		value("-r", sel.Rev).
		flag("--no-follow", sel.NoFollow).
		flag("-a", sel.Text).
		flag("-u", sel.User).
		flag("-f", sel.File).
		flag("-d", sel.Date).
		flag("-n", sel.Changeset).
		flag("-c", sel.Changeset).
		flag("-l", sel.Line).
		values("-I", sel.Include).
		values("-X", sel.Exclude).
		add(files...)
	out, err := r.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return r.parseAnnotate(out, &sel)
}

// annotateRE assembles the prefix matcher for the selected
// annotations. The debug switch makes the changeset annotation a
// "rev node" pair with the full hash.
func annotateRE(sel *AnnotateOptions) *regexp.Regexp {
	expr := `^\s*`
	if sel.User {
		expr += `(?P<user>[A-Za-z_][A-Za-z0-9_-]*|\w[\w\s]*\s<[^>]+>)\s*`
	}
	if sel.Changeset {
		expr += `(?P<changeset>\d+ [A-Fa-f0-9]{40})\s*`
	}
	if sel.Date {
		expr += `(?P<date>(?:Mon|Tue|Wed|Thu|Fri|Sat|Sun) ` +
			`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) ` +
			`\d+ \d+:\d+:\d+ \d+ [+-]\d+)\s*`
	}
	if sel.File {
		expr += `(?P<file>.+?)`
	}
	if sel.Line {
		expr += `:(?P<line>\d+)`
	}
	return regexp.MustCompile(expr + `$`)
}

const annotateDateLayout = "Mon Jan 2 15:04:05 2006 -0700"

func (r *Repository) parseAnnotate(out []byte, sel *AnnotateOptions) ([]AnnotateLine, error) {
	re := annotateRE(sel)
	var lines []AnnotateLine
	for _, raw := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if raw == "" {
			continue
		}
		info, text, ok := splitAnnotate(raw)
		if !ok {
			return nil, fmt.Errorf("hg: bad annotate line %q", raw)
		}
		m := re.FindStringSubmatch(info)
		if m == nil {
			return nil, fmt.Errorf("hg: bad annotate info %q", info)
		}

		line := AnnotateLine{Text: text}
		for i, name := range re.SubexpNames() {
			switch name {
			case "user":
				line.User = m[i]
			case "changeset":
				j := strings.IndexByte(m[i], ' ')
				rev, err := strconv.Atoi(m[i][:j])
				if err != nil {
					return nil, fmt.Errorf("hg: bad annotate revision %q", m[i])
				}
				line.Changeset = r.getLazy(rev, m[i][j+1:])
			case "date":
				t, err := time.Parse(annotateDateLayout, m[i])
				if err != nil {
					return nil, fmt.Errorf("hg: bad annotate date %q", m[i])
				}
				line.Date = t
			case "file":
				line.File = m[i]
			case "line":
				n, err := strconv.Atoi(m[i])
				if err != nil {
					return nil, fmt.Errorf("hg: bad annotate line number %q", m[i])
				}
				line.Line = n
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// splitAnnotate separates the annotation prefix from the line text at
// the first ": " boundary. A line with no text still ends in a colon.
func splitAnnotate(raw string) (string, string, bool) {
	if i := strings.Index(raw, ": "); i >= 0 {
		return raw[:i], raw[i+2:], true
	}
	if strings.HasSuffix(raw, ":") {
		return raw[:len(raw)-1], "", true
	}
	return "", "", false
}
