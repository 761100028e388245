package diff_test

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/go-hg/hg/base85"
	"github.com/go-hg/hg/diff"
)

func parseString(t *testing.T, s string) []*diff.Change {
	t.Helper()
	changes, err := diff.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}
	return changes
}

func TestParseUnified(t *testing.T) {
	changes := parseString(t, `diff --git a/hello.txt b/hello.txt
--- a/hello.txt
+++ b/hello.txt
@@ -1,3 +1,4 @@
 one
-two
+2
+two and a half
 three
`)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if c.Kind != diff.Modify {
		t.Errorf("Kind = %s, want modify", c.Kind)
	}
	if c.Source != "hello.txt" || c.Dest != "hello.txt" {
		t.Errorf("names = %q -> %q", c.Source, c.Dest)
	}
	if len(c.Hunks) != 1 {
		t.Fatalf("got %d hunks, want 1", len(c.Hunks))
	}
	h, ok := c.Hunks[0].(*diff.TextHunk)
	if !ok {
		t.Fatalf("hunk type = %T", c.Hunks[0])
	}
	if h.StartA != 1 || h.LenA != 3 || h.StartB != 1 || h.LenB != 4 {
		t.Errorf("ranges = -%d,%d +%d,%d", h.StartA, h.LenA, h.StartB, h.LenB)
	}
	want := []diff.Line{
		{' ', "one"},
		{'-', "two"},
		{'+', "2"},
		{'+', "two and a half"},
		{' ', "three"},
	}
	if len(h.Lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(h.Lines), len(want))
	}
	for i, l := range h.Lines {
		if l != want[i] {
			t.Errorf("line %d = %q %q, want %q %q", i, l.Op, l.Text, want[i].Op, want[i].Text)
		}
	}
}

func TestParseGitHeaders(t *testing.T) {
	changes := parseString(t, `diff --git a/old.txt b/new.txt
similarity index 90%
rename from old.txt
rename to new.txt
diff --git a/gone.txt b/gone.txt
deleted file mode 100644
--- a/gone.txt
+++ /dev/null
@@ -1,2 +0,0 @@
-a
-b
diff --git a/fresh.txt b/fresh.txt
new file mode 100755
--- /dev/null
+++ b/fresh.txt
@@ -0,0 +1 @@
+hi
`)
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3", len(changes))
	}

	ren := changes[0]
	if ren.Kind != diff.Rename {
		t.Errorf("changes[0].Kind = %s, want rename", ren.Kind)
	}
	if ren.Source != "old.txt" || ren.Dest != "new.txt" {
		t.Errorf("rename = %q -> %q", ren.Source, ren.Dest)
	}
	if ren.Similarity != 90 {
		t.Errorf("Similarity = %d, want 90", ren.Similarity)
	}

	del := changes[1]
	if del.Kind != diff.Delete {
		t.Errorf("changes[1].Kind = %s, want delete", del.Kind)
	}
	if del.Source != "gone.txt" || del.Dest != "" {
		t.Errorf("delete = %q -> %q", del.Source, del.Dest)
	}
	if del.OldMode != 0100644 {
		t.Errorf("OldMode = %o, want 100644", del.OldMode)
	}
	if len(del.Hunks) != 1 {
		t.Fatalf("delete has %d hunks", len(del.Hunks))
	}

	add := changes[2]
	if add.Kind != diff.Add {
		t.Errorf("changes[2].Kind = %s, want add", add.Kind)
	}
	if add.Dest != "fresh.txt" || add.Source != "" {
		t.Errorf("add = %q -> %q", add.Source, add.Dest)
	}
	if add.NewMode != 0100755 {
		t.Errorf("NewMode = %o, want 100755", add.NewMode)
	}
}

func TestParseNoDiffLine(t *testing.T) {
	changes := parseString(t, `--- a/solo.txt
+++ b/solo.txt
@@ -1 +1 @@
-x
+y
`)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if c.Source != "solo.txt" || c.Dest != "solo.txt" {
		t.Errorf("names = %q -> %q", c.Source, c.Dest)
	}
	if len(c.Hunks) != 1 {
		t.Fatalf("got %d hunks", len(c.Hunks))
	}
}

func TestParseNoNewline(t *testing.T) {
	changes := parseString(t, `diff --git a/x b/x
--- a/x
+++ b/x
@@ -1 +1 @@
-old
+new
\ No newline at end of file
`)
	h := changes[0].Hunks[0].(*diff.TextHunk)
	if !h.NoNewline {
		t.Error("NoNewline not set")
	}
	if len(h.Lines) != 2 {
		t.Errorf("got %d lines, want 2", len(h.Lines))
	}
}

func TestParseBlankContextLine(t *testing.T) {
	changes := parseString(t, "diff --git a/b.txt b/b.txt\n" +
		"--- a/b.txt\n+++ b/b.txt\n@@ -1,3 +1,3 @@\n one\n\n-three\n+THREE\n")
	h := changes[0].Hunks[0].(*diff.TextHunk)
	want := []diff.Line{
		{' ', "one"},
		{' ', ""},
		{'-', "three"},
		{'+', "THREE"},
	}
	if len(h.Lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(h.Lines), len(want))
	}
	for i, l := range h.Lines {
		if l != want[i] {
			t.Errorf("line %d = %q %q", i, l.Op, l.Text)
		}
	}
}

func TestParseQuotedNames(t *testing.T) {
	changes := parseString(t, `diff --git "a/sp ace\ttab.txt" "b/sp ace\ttab.txt"
new file mode 100644
diff --git a/has space.txt b/has space.txt
deleted file mode 100644
`)
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	if got := changes[0].Dest; got != "sp ace\ttab.txt" {
		t.Errorf("quoted name = %q", got)
	}
	if got := changes[1].Source; got != "has space.txt" {
		t.Errorf("spaced name = %q", got)
	}
}

func TestParseContext(t *testing.T) {
	changes := parseString(t, `*** orig/sample.txt	2024-01-01 10:00:00
--- work/sample.txt	2024-01-02 10:00:00
***************
*** 1,4 ****
  alpha
! beta
- gamma
  delta
--- 1,3 ----
  alpha
! BETA
  delta
`)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if c.Source != "sample.txt" || c.Dest != "sample.txt" {
		t.Errorf("names = %q -> %q", c.Source, c.Dest)
	}
	h := c.Hunks[0].(*diff.TextHunk)
	if h.StartA != 1 || h.LenA != 4 || h.StartB != 1 || h.LenB != 3 {
		t.Errorf("ranges = -%d,%d +%d,%d", h.StartA, h.LenA, h.StartB, h.LenB)
	}
	want := []diff.Line{
		{' ', "alpha"},
		{'-', "beta"},
		{'-', "gamma"},
		{'+', "BETA"},
		{' ', "delta"},
	}
	if len(h.Lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(h.Lines), len(want))
	}
	for i, l := range h.Lines {
		if l != want[i] {
			t.Errorf("line %d = %q %q, want %q %q", i, l.Op, l.Text, want[i].Op, want[i].Text)
		}
	}
}

// binaryPatchBody renders payload the way git does: deflate, then
// 52-byte chunks as one length byte plus padded base85, ending with a
// blank line.
func binaryPatchBody(t *testing.T, payload []byte) string {
	t.Helper()
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	if _, err := zw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	data := z.Bytes()
	for len(data) > 0 {
		n := len(data)
		if n > 52 {
			n = 52
		}
		if n <= 26 {
			b.WriteByte(byte('A' + n - 1))
		} else {
			b.WriteByte(byte('a' + n - 27))
		}
		b.WriteString(base85.EncodeToString(data[:n], true))
		b.WriteByte('\n')
		data = data[n:]
	}
	b.WriteByte('\n')
	return b.String()
}

func binaryTestData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestParseBinaryPatch(t *testing.T) {
	fwd := binaryTestData(100)
	rev := binaryTestData(64)

	patch := "diff --git a/img.bin b/img.bin\n" +
		"GIT binary patch\n" +
		"literal " + strconv.Itoa(len(fwd)) + "\n" +
		binaryPatchBody(t, fwd) +
		"literal " + strconv.Itoa(len(rev)) + "\n" +
		binaryPatchBody(t, rev)

	changes := parseString(t, patch)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if !c.Binary {
		t.Error("Binary not set")
	}
	if c.Source != "img.bin" || c.Dest != "img.bin" {
		t.Errorf("names = %q -> %q", c.Source, c.Dest)
	}
	if len(c.Hunks) != 2 {
		t.Fatalf("got %d hunks, want 2", len(c.Hunks))
	}

	h0 := c.Hunks[0].(*diff.BinaryHunk)
	if h0.Method != diff.Literal || h0.Reverse {
		t.Errorf("forward hunk = %s reverse=%v", h0.Method, h0.Reverse)
	}
	if h0.Size != int64(len(fwd)) {
		t.Errorf("forward Size = %d, want %d", h0.Size, len(fwd))
	}
	if !bytes.Equal(h0.Data, fwd) {
		t.Error("forward payload mismatch")
	}
	out, err := h0.Apply(nil)
	if err != nil {
		t.Fatalf("Apply failed: %s", err)
	}
	if !bytes.Equal(out, fwd) {
		t.Error("Apply payload mismatch")
	}

	h1 := c.Hunks[1].(*diff.BinaryHunk)
	if !h1.Reverse {
		t.Error("second hunk not marked reverse")
	}
	if !bytes.Equal(h1.Data, rev) {
		t.Error("reverse payload mismatch")
	}
}

func TestParseBinaryCorrupt(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"short line", "literal 5\nB0123\n\n"},
		{"ragged line", "literal 5\nB012345678\n\n"},
		{"bad length byte", "literal 5\n900000\n\n"},
		{"length mismatch", "literal 5\nz00000\n\n"},
		{"bad base85", "literal 5\nB,0000\n\n"},
		{"bad deflate", "literal 5\nD00000\n\n"},
		{"missing method", "not a binary hunk\n"},
	}
	for _, tt := range tests {
		patch := "diff --git a/img.bin b/img.bin\nGIT binary patch\n" + tt.body
		_, err := diff.Parse(strings.NewReader(patch))
		if !errors.Is(err, diff.ErrBadBinaryHunk) {
			t.Errorf("%s: err = %v, want ErrBadBinaryHunk", tt.name, err)
		}
	}
}

func TestChangeString(t *testing.T) {
	c := &diff.Change{
		Source: "a.txt",
		Dest:   "a.txt",
		Hunks: []diff.Hunk{
			&diff.TextHunk{
				StartA: 1, LenA: 1, StartB: 1, LenB: 1,
				Lines: []diff.Line{{'-', "x"}, {'+', "y"}},
			},
		},
	}
	want := "--- a.txt\n+++ a.txt\n@@ -1,1 +1,1 @@\n-x\n+y"
	if got := c.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	del := &diff.Change{Kind: diff.Delete, Source: "b.txt", Dest: "b.txt"}
	if got := del.String(); got != "--- b.txt\n+++ /dev/null" {
		t.Errorf("String() = %q", got)
	}
}

func TestBinaryHunkString(t *testing.T) {
	h := &diff.BinaryHunk{Method: diff.Literal, Size: 3, Data: []byte("ab\x00")}
	s := h.String()
	if !strings.HasPrefix(s, "binary hunk type=literal len=3\n") {
		t.Errorf("String() = %q", s)
	}
	if !strings.Contains(s, "00000000: 61 62 00") {
		t.Errorf("String() missing hex dump: %q", s)
	}
	if !strings.HasSuffix(s, "ab.") {
		t.Errorf("String() missing printable column: %q", s)
	}
}
