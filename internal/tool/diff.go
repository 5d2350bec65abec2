package tool

import (
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContext = 3

// buildDiffMetadata renders a line diff between before and after with
// file headers, keeping diffContext unchanged lines around each change.
// It returns the diff text and the added and deleted line counts.
func buildDiffMetadata(path, before, after, baseDir string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var sb strings.Builder
	if rel := relativePath(path, baseDir); rel != "" {
		sb.WriteString("--- " + rel + "\n")
		sb.WriteString("+++ " + rel + "\n")
	}

	additions, deletions := 0, 0
	for i, d := range diffs {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += len(lines)
			writePrefixed(&sb, "+", lines)
		case diffmatchpatch.DiffDelete:
			deletions += len(lines)
			writePrefixed(&sb, "-", lines)
		case diffmatchpatch.DiffEqual:
			writeContext(&sb, lines, i > 0, i < len(diffs)-1)
		}
	}
	return sb.String(), additions, deletions
}

// writeContext keeps the tail of an unchanged run after a change and its
// head before the next one.
func writeContext(sb *strings.Builder, lines []string, afterChange, beforeChange bool) {
	if len(lines) <= 2*diffContext && afterChange && beforeChange {
		writePrefixed(sb, " ", lines)
		return
	}
	if afterChange {
		writePrefixed(sb, " ", lines[:min(diffContext, len(lines))])
	}
	if afterChange && beforeChange || len(lines) > diffContext {
		sb.WriteString("...\n")
	}
	if beforeChange {
		writePrefixed(sb, " ", lines[max(0, len(lines)-diffContext):])
	}
}

func writePrefixed(sb *strings.Builder, prefix string, lines []string) {
	for _, l := range lines {
		sb.WriteString(prefix)
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func relativePath(path, baseDir string) string {
	if path == "" {
		return ""
	}
	if baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}
