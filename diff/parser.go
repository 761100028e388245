package diff

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"

	"github.com/go-hg/hg/base85"
)

var (
	diffRe     = regexp.MustCompile(`^diff\s+`)
	gitDiffRe  = regexp.MustCompile(`^diff\s+--git\s+`)
	unifiedARe = regexp.MustCompile(`^---\s+`)
	unifiedBRe = regexp.MustCompile(`^\+\+\+\s+`)
	contextARe = regexp.MustCompile(`^\*\*\*\s+`)
	binaryRe   = regexp.MustCompile(`^GIT\s+binary\s+patch`)

	unifiedHunkRe = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)
	contextHunkRe = regexp.MustCompile(`^(?:---|\*\*\*)\s+(\d+)(?:,(\d+))?\s+(?:---|\*\*\*)`)
	methodRe      = regexp.MustCompile(`^(\w+)\s+(\d+)`)

	dateRe = regexp.MustCompile(`(?:\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}(?:\.\d+)?` +
		`|(?:Mon|Tue|Wed|Thu|Fri|Sat|Sun)\s+` +
		`(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+` +
		`\d{1,2}\s+\d{2}:\d{2}:\d{2}(?:\.\d+)?\s+\d{4})` +
		`(?:\s+[+-]\d{2}:?\d{2})?\s*$`)
)

var gitHeaders = []struct {
	re    *regexp.Regexp
	apply func(c *Change, arg, defName string)
}{
	{regexp.MustCompile(`^rename\s+(?:from|old)\s+(.*)$`), func(c *Change, arg, _ string) {
		c.Kind = Rename
		c.Source = extractName(arg)
	}},
	{regexp.MustCompile(`^rename\s+(?:to|new)\s+(.*)$`), func(c *Change, arg, _ string) {
		c.Kind = Rename
		c.Dest = extractName(arg)
	}},
	{regexp.MustCompile(`^copy\s+from\s+(.*)$`), func(c *Change, arg, _ string) {
		c.Kind = Copy
		c.Source = extractName(arg)
	}},
	{regexp.MustCompile(`^copy\s+to\s+(.*)$`), func(c *Change, arg, _ string) {
		c.Kind = Copy
		c.Dest = extractName(arg)
	}},
	{regexp.MustCompile(`^deleted\s+file\s+mode\s+([0-7]+)$`), func(c *Change, arg, defName string) {
		c.Kind = Delete
		c.Source = defName
		c.Dest = ""
		c.OldMode = parseOctal(arg)
	}},
	{regexp.MustCompile(`^new\s+file\s+mode\s+([0-7]+)$`), func(c *Change, arg, defName string) {
		c.Kind = Add
		c.Source = ""
		c.Dest = defName
		c.NewMode = parseOctal(arg)
	}},
	{regexp.MustCompile(`^old\s+mode\s+([0-7]+)$`), func(c *Change, arg, _ string) {
		c.OldMode = parseOctal(arg)
	}},
	{regexp.MustCompile(`^new\s+mode\s+([0-7]+)$`), func(c *Change, arg, _ string) {
		c.NewMode = parseOctal(arg)
	}},
	{regexp.MustCompile(`^similarity\s+index\s+([0-9]+)%?$`), func(c *Change, arg, _ string) {
		c.Similarity, _ = strconv.Atoi(arg)
	}},
	{regexp.MustCompile(`^dissimilarity\s+index\s+([0-9]+)%?$`), func(c *Change, arg, _ string) {
		c.Dissimilarity, _ = strconv.Atoi(arg)
	}},
}

func parseOctal(s string) uint32 {
	v, _ := strconv.ParseUint(s, 8, 32)
	return uint32(v)
}

type parseMode int

const (
	modeNone parseMode = iota
	modeUnified
	modeContext
)

// Parse reads a set of patches in diff format and returns a Change for
// each file changed therein.
func Parse(r io.Reader) ([]*Change, error) {
	src := newLineReader(r)

	var (
		changes  []*Change
		change   *Change
		defName  string
		gitStyle bool
		mode     parseMode
	)
	for {
		line, ok := src.readLine()
		if !ok {
			break
		}
		switch {
		case diffRe.MatchString(line):
			if change != nil {
				changes = append(changes, change)
			}
			gitStyle = gitDiffRe.MatchString(line)
			defName = extractFilename(strings.TrimRight(line, " \t\r\n"))
			change = &Change{}

		case unifiedARe.MatchString(line):
			next, _ := src.readLine()
			if !unifiedBRe.MatchString(next) {
				src.push(next)
				continue
			}
			change = handleFileHeader(change, line, next, defName)
			mode = modeUnified
			gitStyle = false

		case contextARe.MatchString(line):
			next, _ := src.readLine()
			if !unifiedARe.MatchString(next) {
				src.push(next)
				continue
			}
			change = handleFileHeader(change, line, next, defName)
			mode = modeContext
			gitStyle = false

		case binaryRe.MatchString(line):
			c, err := parseBinary(change, src, defName)
			if err != nil {
				return nil, err
			}
			change = c

		case mode == modeUnified && strings.HasPrefix(line, "@"):
			change = parseUnified(change, line, src)

		case mode == modeContext && strings.HasPrefix(line, "***************"):
			change = parseContext(change, src)

		case gitStyle:
			sline := strings.TrimRight(line, " \t\r\n")
			for _, h := range gitHeaders {
				if m := h.re.FindStringSubmatch(sline); m != nil {
					if change == nil {
						change = &Change{}
					}
					h.apply(change, m[1], defName)
					break
				}
			}
		}
	}
	if change != nil {
		changes = append(changes, change)
	}
	if err := src.lastErr(); err != nil {
		return nil, err
	}
	return changes, nil
}

func handleFileHeader(c *Change, line, next, defName string) *Change {
	if c == nil {
		c = &Change{}
	}
	c.Source = findName(line[4:], defName, true)
	c.Dest = findName(next[4:], defName, true)
	return c
}

func parseUnified(c *Change, line string, src *lineReader) *Change {
	if c == nil {
		c = &Change{}
	}
	sa, la, sb, lb := parseUnifiedHeader(line)

	// Without git extended headers an add or delete may only become
	// apparent from an empty old or new range.
	if sa == 0 && la == 0 && c.Kind != Add {
		c.Kind = Add
		c.Source = ""
	} else if sb == 0 && lb == 0 && c.Kind != Delete {
		c.Kind = Delete
		c.Dest = ""
	}

	hunk := &TextHunk{StartA: sa, LenA: la, StartB: sb, LenB: lb}
	for la > 0 || lb > 0 {
		hline, ok := src.readLine()
		if !ok {
			break
		}
		if hline == "" || hline == "\n" || hline == "\r\n" {
			hunk.Lines = append(hunk.Lines, Line{Op: ' '})
			la--
			lb--
			continue
		}

		op := hline[0]
		hunk.Lines = append(hunk.Lines, Line{Op: op, Text: chomp(hline[1:])})
		if op == ' ' || op == '-' {
			la--
		}
		if op == ' ' || op == '+' {
			lb--
		}
	}

	if hline, ok := src.readLine(); ok {
		if strings.HasPrefix(hline, `\ `) {
			hunk.NoNewline = true
		} else {
			src.push(hline)
		}
	}

	c.Hunks = append(c.Hunks, hunk)
	return c
}

func parseUnifiedHeader(line string) (sa, la, sb, lb int) {
	m := unifiedHunkRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, 0, 0
	}
	sa, _ = strconv.Atoi(m[1])
	la = 1
	if m[2] != "" {
		la, _ = strconv.Atoi(m[2])
	}
	sb, _ = strconv.Atoi(m[3])
	lb = 1
	if m[4] != "" {
		lb, _ = strconv.Atoi(m[4])
	}
	return sa, la, sb, lb
}

func parseContext(c *Change, src *lineReader) *Change {
	if c == nil {
		c = &Change{}
	}
	line, ok := src.readLine()
	if !ok {
		return c
	}
	sa, la, ok := parseContextRange(line)
	if !ok {
		src.push(line)
		return c
	}
	if sa == 0 && la == 0 && c.Kind != Add {
		c.Kind = Add
		c.Source = ""
	}

	var (
		oldLines  []Line
		sb, lb    int
		noNewline bool
	)
	for {
		l, ok := src.readLine()
		if !ok {
			break
		}
		if strings.HasPrefix(l, "---") {
			sb, lb, _ = parseContextRange(l)
			break
		}
		switch {
		case strings.HasPrefix(l, "! "), strings.HasPrefix(l, "- "):
			oldLines = append(oldLines, Line{Op: '-', Text: chomp(l[2:])})
		case strings.HasPrefix(l, "  "):
			oldLines = append(oldLines, Line{Op: ' ', Text: chomp(l[2:])})
		case strings.HasPrefix(l, `\ `):
			noNewline = true
		}
	}
	if sb == 0 && lb == 0 && c.Kind != Delete {
		c.Kind = Delete
		c.Dest = ""
	}

	var newLines []Line
loop:
	for {
		l, ok := src.readLine()
		if !ok {
			break
		}
		switch {
		case strings.HasPrefix(l, "! "), strings.HasPrefix(l, "+ "):
			newLines = append(newLines, Line{Op: '+', Text: chomp(l[2:])})
		case strings.HasPrefix(l, "  "):
			newLines = append(newLines, Line{Op: ' ', Text: chomp(l[2:])})
		case strings.HasPrefix(l, `\ `):
			noNewline = true
		default:
			src.push(l)
			break loop
		}
	}

	hunk := &TextHunk{
		StartA: sa, LenA: la,
		StartB: sb, LenB: lb,
		Lines:     mergeContext(oldLines, newLines),
		NoNewline: noNewline,
	}
	c.Hunks = append(c.Hunks, hunk)
	return c
}

func parseContextRange(line string) (start, count int, ok bool) {
	m := contextHunkRe.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	start, _ = strconv.Atoi(m[1])
	if m[2] == "" {
		return start, 1, true
	}
	end, _ := strconv.Atoi(m[2])
	if start == 0 && end == 0 {
		return 0, 0, true
	}
	return start, end - start + 1, true
}

// mergeContext interleaves the two halves of a context hunk into
// unified order: deletions first at each change point, then insertions,
// with shared context lines taken once.
func mergeContext(oldLines, newLines []Line) []Line {
	var out []Line
	i, j := 0, 0
	for i < len(oldLines) || j < len(newLines) {
		switch {
		case i < len(oldLines) && oldLines[i].Op == '-':
			out = append(out, oldLines[i])
			i++
		case j < len(newLines) && newLines[j].Op == '+':
			out = append(out, newLines[j])
			j++
		case i < len(oldLines):
			out = append(out, oldLines[i])
			i++
			if j < len(newLines) {
				j++
			}
		default:
			out = append(out, newLines[j])
			j++
		}
	}
	return out
}

func parseBinary(c *Change, src *lineReader, defName string) (*Change, error) {
	if c == nil {
		c = &Change{}
	}
	if c.Source == "" {
		c.Source = defName
	}
	if c.Dest == "" {
		c.Dest = defName
	}

	forward, err := parseBinaryHunk(src, false)
	if err != nil {
		return nil, err
	}
	if forward == nil {
		return nil, fmt.Errorf("%w: unrecognised binary patch", ErrBadBinaryHunk)
	}
	c.Hunks = append(c.Hunks, forward)

	reverse, err := parseBinaryHunk(src, true)
	if err != nil {
		return nil, err
	}
	if reverse != nil {
		c.Hunks = append(c.Hunks, reverse)
	}

	c.Binary = true
	return c, nil
}

func parseBinaryHunk(src *lineReader, reverse bool) (*BinaryHunk, error) {
	line, ok := src.readLine()
	if !ok {
		return nil, nil
	}
	m := methodRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		src.push(line)
		return nil, nil
	}
	method := BinaryMethod(m[1])
	if method != Literal && method != Delta {
		src.push(line)
		return nil, nil
	}
	size, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		src.push(line)
		return nil, nil
	}

	// Each data line is one length byte followed by padded base85;
	// a blank line ends the hunk.
	var packed []byte
	for {
		line, ok := src.readLine()
		if !ok {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if len(line) < 6 || (len(line)-1)%5 != 0 {
			return nil, fmt.Errorf("%w: bad line length", ErrBadBinaryHunk)
		}

		var n int
		switch c := line[0]; {
		case c >= 'A' && c <= 'Z':
			n = int(c-'A') + 1
		case c >= 'a' && c <= 'z':
			n = int(c-'a') + 27
		default:
			return nil, fmt.Errorf("%w: bad length byte", ErrBadBinaryHunk)
		}

		data, err := base85.DecodeString(line[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadBinaryHunk, err)
		}
		if len(data) < n {
			return nil, fmt.Errorf("%w: length mismatch", ErrBadBinaryHunk)
		}
		packed = append(packed, data[:n]...)
	}

	zr, err := zlib.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to decompress", ErrBadBinaryHunk)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to decompress", ErrBadBinaryHunk)
	}
	_ = zr.Close()

	return &BinaryHunk{Method: method, Size: size, Data: data, Reverse: reverse}, nil
}

// findName extracts a file name from the body of a `--- ` or `+++ `
// header, stripping the leading path component the way git does and
// falling back to defName when no component is present.
func findName(s, defName string, withDate bool) string {
	s = strings.TrimLeft(s, " \t")

	var name string
	if strings.HasPrefix(s, `"`) {
		name, _ = scanQuoted(s, 0)
	} else {
		if withDate {
			if loc := dateRe.FindStringIndex(s); loc != nil {
				name = s[:loc[0]]
			}
		}
		if name == "" {
			ndx := strings.IndexByte(s, '\t')
			if ndx < 0 {
				ndx = strings.IndexByte(s, ' ')
			}
			if ndx > 0 {
				name = s[:ndx]
			} else {
				name = s
			}
		}
	}

	name = strings.Trim(name, " \t")
	name = chomp(name)
	if name == "/dev/null" {
		return ""
	}
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return defName
	}
	name = name[i+1:]
	if defName != "" && strings.HasPrefix(name, defName) {
		return defName
	}
	return name
}

func extractName(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		s, _ = scanQuoted(s, 0)
	}
	return s
}

// extractFilename recovers the shared file name from a `diff --git
// a/name b/name` line, handling C-style quoting and names containing
// whitespace.
func extractFilename(line string) string {
	m := gitDiffRe.FindStringIndex(line)
	if m == nil {
		return ""
	}
	ndx := m[1]
	if ndx >= len(line) {
		return ""
	}

	var first, second string
	if line[ndx] == '"' {
		first, ndx = scanQuoted(line, ndx)

		j := ndx
		for j < len(line) && (line[j] == ' ' || line[j] == '\t') {
			j++
		}
		if j == ndx {
			return ""
		}
		ndx = j

		if ndx < len(line) && line[ndx] == '"' {
			second, _ = scanQuoted(line, ndx)
		} else {
			second = line[ndx:]
		}
	} else {
		q := strings.IndexByte(line[ndx:], '"')
		if q >= 0 {
			q += ndx
			second, _ = scanQuoted(line, q)
			first = strings.TrimRight(line[ndx:q], " \t\r\n")
		} else {
			return splitNames(line[ndx:])
		}
	}

	fi := strings.IndexByte(first, '/')
	si := strings.IndexByte(second, '/')
	if fi < 0 || si < 0 {
		return ""
	}
	first = first[fi+1:]
	second = second[si+1:]
	if first != second {
		return ""
	}
	return first
}

// splitNames handles the unquoted `a/name b/name` form, trying the
// longest left name first so names containing spaces still split at
// the right gap.
func splitNames(s string) string {
	for i := len(s) - 1; i > 0; i-- {
		if s[i] != ' ' && s[i] != '\t' {
			continue
		}
		left := strings.TrimRight(s[:i], " \t")
		right := s[i+1:]
		li := strings.IndexByte(left, '/')
		ri := strings.IndexByte(right, '/')
		if li <= 0 || ri <= 0 {
			continue
		}
		if left[li+1:] == right[ri+1:] {
			return left[li+1:]
		}
	}
	return ""
}

// scanQuoted reads a C-style quoted string starting at the double
// quote at ndx and returns the unescaped content and the index just
// past the closing quote.
func scanQuoted(line string, ndx int) (string, int) {
	ndx++
	var b strings.Builder
	for ndx < len(line) {
		c := line[ndx]
		if c == '\\' && ndx+1 < len(line) {
			b.WriteByte(c)
			b.WriteByte(line[ndx+1])
			ndx += 2
			continue
		}
		if c == '"' {
			ndx++
			break
		}
		b.WriteByte(c)
		ndx++
	}
	return unescapeC(b.String()), ndx
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// unescapeC processes C-style escapes. Octal and \x escapes yield raw
// bytes; \uXXXX and \UXXXXXXXX yield the encoded rune.
func unescapeC(s string) string {
	var b []byte
	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b = append(b, c)
			i++
			continue
		}
		i++
		switch c2 := s[i]; {
		case c2 == 'a':
			b = append(b, 0x07)
			i++
		case c2 == 'b':
			b = append(b, 0x08)
			i++
		case c2 == 't':
			b = append(b, 0x09)
			i++
		case c2 == 'n':
			b = append(b, 0x0A)
			i++
		case c2 == 'v':
			b = append(b, 0x0B)
			i++
		case c2 == 'f':
			b = append(b, 0x0C)
			i++
		case c2 == 'r':
			b = append(b, 0x0D)
			i++
		case c2 == 'x':
			j := i + 1
			for j < len(s) && j < i+3 && isHex(s[j]) {
				j++
			}
			if j == i+1 {
				b = append(b, 'x')
				i++
				continue
			}
			v, _ := strconv.ParseUint(s[i+1:j], 16, 8)
			b = append(b, byte(v))
			i = j
		case c2 == 'u', c2 == 'U':
			n := 4
			if c2 == 'U' {
				n = 8
			}
			j := i + 1
			for j < len(s) && j < i+1+n && isHex(s[j]) {
				j++
			}
			if j != i+1+n {
				b = append(b, c2)
				i++
				continue
			}
			v, _ := strconv.ParseUint(s[i+1:j], 16, 32)
			var buf [utf8.UTFMax]byte
			b = append(b, buf[:utf8.EncodeRune(buf[:], rune(v))]...)
			i = j
		case c2 >= '0' && c2 <= '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, _ := strconv.ParseUint(s[i:j], 8, 16)
			b = append(b, byte(v))
			i = j
		default:
			b = append(b, c2)
			i++
		}
	}
	return string(b)
}

func chomp(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

type lineReader struct {
	r      *bufio.Reader
	pushed []string
	err    error
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

func (lr *lineReader) readLine() (string, bool) {
	if len(lr.pushed) > 0 {
		line := lr.pushed[0]
		lr.pushed = lr.pushed[1:]
		return line, true
	}
	if lr.err != nil {
		return "", false
	}
	line, err := lr.r.ReadString('\n')
	if err != nil {
		lr.err = err
		if line == "" {
			return "", false
		}
	}
	return line, true
}

func (lr *lineReader) push(line string) {
	lr.pushed = append(lr.pushed, line)
}

func (lr *lineReader) lastErr() error {
	if lr.err != nil && lr.err != io.EOF {
		return lr.err
	}
	return nil
}
