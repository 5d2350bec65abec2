package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const readDescription = `Reads a text file from the local filesystem.

Usage:
- filePath may be absolute or relative to the working directory
- By default, reads up to 2000 lines from the beginning
- You can optionally specify offset and limit for pagination
- Returns file contents with line numbers`

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

// DefaultDenyRead blocks env files except examples and samples.
var DefaultDenyRead = []string{"**/.env", "**/.env.*"}

var denyReadExceptions = []string{"**/.env.sample", "**/.env.example", "**/*.example"}

// ReadTool implements file reading.
type ReadTool struct {
	workDir string
	deny    []string
}

// ReadInput represents the input for the read_file tool.
type ReadInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewReadTool creates a new read tool. deny holds doublestar path
// patterns, matched against the path relative to workDir, that the tool
// refuses to open; DefaultDenyRead is always applied.
func NewReadTool(workDir string, deny []string) *ReadTool {
	patterns := append([]string(nil), DefaultDenyRead...)
	for _, p := range deny {
		if doublestar.ValidatePattern(p) {
			patterns = append(patterns, p)
		}
	}
	return &ReadTool{workDir: workDir, deny: patterns}
}

func (t *ReadTool) ID() string          { return "read_file" }
func (t *ReadTool) Description() string { return readDescription }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "Path of the file to read"
			},
			"offset": {
				"type": "integer",
				"description": "Line number to start reading from"
			},
			"limit": {
				"type": "integer",
				"description": "Number of lines to read (default: 2000)"
			}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}
	if params.Limit <= 0 {
		params.Limit = defaultReadLimit
	}

	workDir := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		workDir = toolCtx.WorkDir
	}
	path := resolvePath(workDir, params.FilePath)

	if t.denied(workDir, path) {
		return nil, fmt.Errorf("the user has blocked reading %s, do not try again", params.FilePath)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", params.FilePath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", params.FilePath)
	}
	if isBinaryFile(path) {
		return nil, fmt.Errorf("file appears to be binary: %s", params.FilePath)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++
		if params.Offset > 0 && lineNum < params.Offset {
			continue
		}
		if len(lines) >= params.Limit {
			continue
		}

		line := scanner.Text()
		if len(line) > maxLineLength {
			line = line[:maxLineLength] + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", params.FilePath, err)
	}

	var sb strings.Builder
	sb.WriteString("<file>\n")
	sb.WriteString(strings.Join(lines, "\n"))

	first := params.Offset
	if first < 1 {
		first = 1
	}
	lastReadLine := first - 1 + len(lines)
	if lineNum > lastReadLine {
		fmt.Fprintf(&sb, "\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", lastReadLine)
	} else {
		fmt.Fprintf(&sb, "\n\n(End of file - total %d lines)", lineNum)
	}
	sb.WriteString("\n</file>")

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
		Output: sb.String(),
		Metadata: map[string]any{
			"file":       path,
			"lines":      len(lines),
			"totalLines": lineNum,
		},
	}, nil
}

// denied matches the path relative to workDir, or the absolute path when
// it lies outside, against the deny patterns.
func (t *ReadTool) denied(workDir, path string) bool {
	candidate := filepath.ToSlash(path)
	if rel, err := filepath.Rel(workDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		candidate = filepath.ToSlash(rel)
	}
	for _, p := range denyReadExceptions {
		if ok, _ := doublestar.Match(p, candidate); ok {
			return false
		}
	}
	for _, p := range t.deny {
		if ok, _ := doublestar.Match(p, candidate); ok {
			return true
		}
	}
	return false
}

func resolvePath(workDir, p string) string {
	if filepath.IsAbs(p) || workDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(workDir, p)
}

func isBinaryFile(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	buf := make([]byte, 8000)
	n, _ := file.Read(buf)
	if n == 0 {
		return false
	}

	nonPrintable := 0
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
		if buf[i] < 32 && buf[i] != '\n' && buf[i] != '\r' && buf[i] != '\t' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(n) > 0.3
}
