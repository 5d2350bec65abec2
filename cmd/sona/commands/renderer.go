package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/qent/sona-sub000/internal/toolset"
	"github.com/qent/sona-sub000/pkg/types"
)

var (
	userLabel      = color.New(color.FgCyan, color.Bold)
	assistantLabel = color.New(color.FgGreen, color.Bold)
	toolColor      = color.New(color.FgYellow)
	dimColor       = color.New(color.FgHiBlack)
	promptColor    = color.New(color.FgMagenta, color.Bold)
	addColor       = color.New(color.FgGreen)
	delColor       = color.New(color.FgRed)
)

// renderer prints session snapshots as a terminal transcript. It only
// prints what changed since the previous snapshot.
type renderer struct {
	out io.Writer

	chatID   string
	done     int // messages fully printed
	partial  int // bytes of Messages[done] already printed
	prompted string
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out}
}

// Render prints the difference between cs and the last rendered snapshot.
func (r *renderer) Render(cs types.ChatSession) {
	if cs.ChatID != r.chatID {
		r.chatID = cs.ChatID
		r.done, r.partial, r.prompted = 0, 0, ""
		if cs.ChatID != "" && len(cs.Messages) > 0 {
			fmt.Fprintln(r.out, dimColor.Sprintf("chat %s", cs.ChatID))
		}
	}
	if len(cs.Messages) < r.done {
		r.done, r.partial = len(cs.Messages), 0
	}

	for r.done < len(cs.Messages) {
		m := cs.Messages[r.done]
		last := r.done == len(cs.Messages)-1
		if !r.renderMessage(m, last && cs.RequestInProgress) {
			break
		}
		r.done++
		r.partial = 0
	}

	r.renderPrompt(cs)
}

// renderMessage prints m and reports whether it is final.
func (r *renderer) renderMessage(m types.TurnMessage, inFlight bool) bool {
	switch m.Role {
	case types.RoleUser:
		fmt.Fprintf(r.out, "%s %s\n", userLabel.Sprint("you ›"), m.Content)
		return true

	case types.RoleTool:
		if m.Content == toolset.ExecutingText {
			return false
		}
		fmt.Fprintln(r.out, toolColor.Sprintf("→ tool %s", m.ToolName))
		if out := strings.TrimSpace(m.Content); out != "" {
			fmt.Fprintln(r.out, dimColor.Sprint(indent(truncate(out, 20))))
		}
		return true

	default:
		if len(m.Content) < r.partial {
			// the turn was retried and the placeholder cleared
			fmt.Fprintln(r.out, dimColor.Sprint(" (retrying)"))
			r.partial = 0
		}
		if r.partial == 0 && m.Content != "" {
			fmt.Fprintf(r.out, "%s ", assistantLabel.Sprint("assistant ›"))
		}
		fmt.Fprint(r.out, m.Content[r.partial:])
		r.partial = len(m.Content)
		if inFlight {
			return false
		}
		if m.Content != "" {
			fmt.Fprintln(r.out)
		}
		return true
	}
}

func (r *renderer) renderPrompt(cs types.ChatSession) {
	if cs.PendingToolName == nil {
		r.prompted = ""
		return
	}
	name := *cs.PendingToolName
	if name == r.prompted {
		return
	}
	r.prompted = name
	if cs.PendingPatch != nil {
		printPatch(r.out, *cs.PendingPatch)
	}
	fmt.Fprint(r.out, promptColor.Sprintf("allow %s? [y]es / [a]lways / [n]o: ", name))
}

func printPatch(out io.Writer, patch string) {
	for _, line := range strings.Split(strings.TrimRight(patch, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprintln(out, dimColor.Sprint(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(out, addColor.Sprint(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(out, delColor.Sprint(line))
		default:
			fmt.Fprintln(out, line)
		}
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

func truncate(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[:maxLines], "\n") + fmt.Sprintf("\n... %d more lines", len(lines)-maxLines)
}
