package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/harun/dotagent/pkg/agent"
	"github.com/mattn/go-isatty"
)

const wordWrap = 100

// renderer prints answers as styled markdown on a terminal and as plain
// text everywhere else
type renderer struct {
	out      io.Writer
	markdown *glamour.TermRenderer
}

func newRenderer(out io.Writer, plain bool) *renderer {
	r := &renderer{out: out}
	if plain || !isTerminal(out) {
		return r
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err == nil {
		r.markdown = md
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// Answer prints the final output of a run
func (r *renderer) Answer(resp agent.AgentResponse) {
	text := resp.Output
	if r.markdown != nil {
		if styled, err := r.markdown.Render(text); err == nil {
			fmt.Fprint(r.out, styled)
			return
		}
	}
	fmt.Fprintln(r.out, strings.TrimRight(text, "\n"))
}

// Steps prints the trace of a run, one line per message
func (r *renderer) Steps(resp agent.AgentResponse) {
	for i, step := range agent.Records(resp.Steps) {
		switch {
		case len(step.ToolCalls) > 0:
			names := make([]string, 0, len(step.ToolCalls))
			for _, call := range step.ToolCalls {
				names = append(names, call.Name)
			}
			fmt.Fprintf(r.out, "%2d. %s -> %s\n", i+1, step.Role, strings.Join(names, ", "))
		case step.Role == agent.RoleToolResult:
			status := "ok"
			if step.IsError {
				status = "error"
			}
			fmt.Fprintf(r.out, "%2d. %s %s [%s] %s\n", i+1, step.Role, step.Name, status, truncate(step.Content, 160))
		default:
			fmt.Fprintf(r.out, "%2d. %s %s\n", i+1, step.Role, truncate(step.Content, 160))
		}
	}
	fmt.Fprintf(r.out, "rounds: %d, status: %s\n", resp.Rounds, resp.Status)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
