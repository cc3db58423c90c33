package tool

import (
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// fileDiff summarizes the change of one file from before to after.
type fileDiff struct {
	Patch     string
	Additions int
	Deletions int
	// FirstChangedLine is the 1-based line of the new content where the
	// first change starts. Zero when nothing changed.
	FirstChangedLine int
}

// diffFile computes a line-based patch headed with path made relative to
// baseDir.
func diffFile(path, before, after, baseDir string) fileDiff {
	var d fileDiff
	if before == after {
		return d
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	line := 1
	for _, chunk := range diffs {
		n := lineCount(chunk.Text)
		switch chunk.Type {
		case diffmatchpatch.DiffEqual:
			line += n
			continue
		case diffmatchpatch.DiffInsert:
			d.Additions += n
		case diffmatchpatch.DiffDelete:
			d.Deletions += n
		}
		if d.FirstChangedLine == 0 {
			d.FirstChangedLine = line
		}
		if chunk.Type == diffmatchpatch.DiffInsert {
			line += n
		}
	}

	if patch := dmp.PatchToText(dmp.PatchMake(before, diffs)); patch != "" {
		name := displayPath(path, baseDir)
		d.Patch = "--- " + name + "\n+++ " + name + "\n" + patch
	}
	return d
}

// displayPath is path relative to baseDir when it lies inside it.
func displayPath(path, baseDir string) string {
	if baseDir == "" {
		return path
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// lineCount counts lines, including an unterminated last one.
func lineCount(text string) int {
	n := strings.Count(text, "\n")
	if text != "" && !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
