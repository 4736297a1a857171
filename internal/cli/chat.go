package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/dotagent/pkg/agent"
	"github.com/spf13/cobra"
)

var chatPlain bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Read questions from stdin and answer them one at a time with a single
agent session. Commands: /reset starts a new session, /steps toggles the
trace, /exit quits. Ctrl-C cancels the question in progress.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "disable markdown rendering")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := loadEnvironment(cmd, environmentOptions{agent: true, interactive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	session, err := rt.newSession()
	if err != nil {
		return err
	}
	defer func() { session.Close() }()

	out := cmd.OutOrStdout()
	r := newRenderer(out, chatPlain)
	showSteps := false

	fmt.Fprintf(out, "dotagent %s (%s/%s). Type /exit to quit.\n", version, session.Provider(), session.Model())

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/help":
			fmt.Fprintln(out, "/reset  start a new session\n/steps  toggle the trace\n/exit   quit")
			continue
		case "/steps":
			showSteps = !showSteps
			fmt.Fprintf(out, "trace %s\n", onOff(showSteps))
			continue
		case "/reset":
			next, err := rt.newSession()
			if err != nil {
				return err
			}
			session.Close()
			session = next
			fmt.Fprintln(out, "new session "+session.ID())
			continue
		}

		resp, err := askOnce(cmd, session, line)
		if err != nil {
			if agent.IsModelInvocationError(err) {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				continue
			}
			return err
		}
		r.Answer(resp)
		if showSteps {
			r.Steps(resp)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

// askOnce runs one query; an interrupt cancels only this query
func askOnce(cmd *cobra.Command, session *agent.Session, query string) (agent.AgentResponse, error) {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT)
	defer stop()
	return session.Run(ctx, query)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
