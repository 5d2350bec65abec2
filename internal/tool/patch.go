package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const patchDescription = `Applies a unified diff to a single file.

Usage:
- filePath may be absolute or relative to the working directory
- patch holds one or more hunks in unified diff format ("@@ -l,s +l,s @@")
- File header lines ("---", "+++") are optional and ignored
- Hunks are located by content, so slightly stale line numbers still apply
- A hunk starting at "-0,0" against a missing file creates it
- The user sees the resulting diff before the change is written`

// ErrHunkFailed is returned when a hunk cannot be located in the file.
var ErrHunkFailed = errors.New("hunk did not apply")

// PatchTool applies unified diffs to files.
type PatchTool struct {
	workDir string
}

// PatchInput represents the input for the apply_patch tool.
type PatchInput struct {
	FilePath string `json:"filePath"`
	Patch    string `json:"patch"`
}

type hunk struct {
	oldStart int
	oldText  string
	newText  string
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// NewPatchTool creates a new apply_patch tool.
func NewPatchTool(workDir string) *PatchTool {
	return &PatchTool{workDir: workDir}
}

func (t *PatchTool) ID() string          { return "apply_patch" }
func (t *PatchTool) Description() string { return patchDescription }

func (t *PatchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "Path of the file to patch"
			},
			"patch": {
				"type": "string",
				"description": "Unified diff hunks to apply"
			}
		},
		"required": ["filePath", "patch"]
	}`)
}

// Preview applies the patch in memory and returns the resulting diff.
func (t *PatchTool) Preview(ctx context.Context, input json.RawMessage, toolCtx *Context) (string, error) {
	path, before, after, err := t.apply(input, toolCtx)
	if err != nil {
		return "", err
	}
	diff, _, _ := buildDiffMetadata(path, before, after, t.dir(toolCtx))
	return diff, nil
}

func (t *PatchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	path, before, after, err := t.apply(input, toolCtx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(after), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}

	diff, additions, deletions := buildDiffMetadata(path, before, after, t.dir(toolCtx))
	rel := relativePath(path, t.dir(toolCtx))
	return &Result{
		Title:  fmt.Sprintf("Patched %s", rel),
		Output: fmt.Sprintf("Applied patch to %s (+%d -%d)", rel, additions, deletions),
		Metadata: map[string]any{
			"file":      path,
			"diff":      diff,
			"additions": additions,
			"deletions": deletions,
		},
	}, nil
}

func (t *PatchTool) dir(toolCtx *Context) string {
	if toolCtx != nil && toolCtx.WorkDir != "" {
		return toolCtx.WorkDir
	}
	return t.workDir
}

// apply computes the patched content without touching the file.
func (t *PatchTool) apply(input json.RawMessage, toolCtx *Context) (path, before, after string, err error) {
	var params PatchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", "", "", fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return "", "", "", fmt.Errorf("filePath is required")
	}

	hunks, err := parseUnifiedDiff(params.Patch)
	if err != nil {
		return "", "", "", err
	}

	path = resolvePath(t.dir(toolCtx), params.FilePath)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		before = string(data)
	case os.IsNotExist(err) && createsFile(hunks):
		before = ""
	default:
		return "", "", "", fmt.Errorf("file not found: %s", params.FilePath)
	}

	after, err = applyHunks(before, hunks)
	if err != nil {
		return "", "", "", err
	}
	return path, before, after, nil
}

func createsFile(hunks []hunk) bool {
	return len(hunks) == 1 && hunks[0].oldStart == 0 && hunks[0].oldText == ""
}

// parseUnifiedDiff splits patch text into hunks of old and new content.
func parseUnifiedDiff(patch string) ([]hunk, error) {
	var (
		hunks   []hunk
		current *hunk
		oldB    strings.Builder
		newB    strings.Builder
	)
	flush := func() {
		if current != nil {
			current.oldText = oldB.String()
			current.newText = newB.String()
			hunks = append(hunks, *current)
		}
		oldB.Reset()
		newB.Reset()
	}

	lines := strings.Split(strings.ReplaceAll(patch, "\r\n", "\n"), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for _, line := range lines {
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			flush()
			start, _ := strconv.Atoi(m[1])
			current = &hunk{oldStart: start}
			continue
		}
		if current == nil {
			// headers and prose before the first hunk
			continue
		}
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			flush()
			current = nil
		case strings.HasPrefix(line, "+"):
			newB.WriteString(line[1:] + "\n")
		case strings.HasPrefix(line, "-"):
			oldB.WriteString(line[1:] + "\n")
		case strings.HasPrefix(line, " "):
			oldB.WriteString(line[1:] + "\n")
			newB.WriteString(line[1:] + "\n")
		case line == "":
			oldB.WriteString("\n")
			newB.WriteString("\n")
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file"
		default:
			return nil, fmt.Errorf("invalid patch line %q", line)
		}
	}
	flush()

	if len(hunks) == 0 {
		return nil, fmt.Errorf("patch contains no hunks")
	}
	return hunks, nil
}

// applyHunks applies each hunk with diff-match-patch, anchored at the
// hunk's stated line so fuzzy matching searches near it.
func applyHunks(content string, hunks []hunk) (string, error) {
	dmp := diffmatchpatch.New()
	dmp.MatchDistance = 100000
	dmp.PatchDeleteThreshold = 0.3

	for i, h := range hunks {
		if h.oldText == h.newText {
			continue
		}
		if h.oldText == "" {
			content = insertAtLine(content, h.oldStart, h.newText)
			continue
		}

		offset := lineOffset(content, h.oldStart)
		patches := dmp.PatchMake(h.oldText, h.newText)
		for j := range patches {
			patches[j].Start1 += offset
			patches[j].Start2 += offset
		}
		patched, applied := dmp.PatchApply(patches, content)
		for _, ok := range applied {
			if !ok {
				return "", fmt.Errorf("%w: hunk %d at line %d", ErrHunkFailed, i+1, h.oldStart)
			}
		}
		content = patched
	}
	return content, nil
}

// lineOffset returns the byte offset of 1-based line n, clamped to content.
func lineOffset(content string, n int) int {
	if n <= 1 {
		return 0
	}
	off := 0
	for line := 1; line < n; line++ {
		idx := strings.IndexByte(content[off:], '\n')
		if idx < 0 {
			return len(content)
		}
		off += idx + 1
	}
	return off
}

// insertAtLine inserts text after 1-based line n; n == 0 prepends.
func insertAtLine(content string, n int, text string) string {
	off := lineOffset(content, n+1)
	if off == len(content) && content != "" && !strings.HasSuffix(content, "\n") {
		return content + "\n" + text
	}
	return content[:off] + text + content[off:]
}
