package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/dotagent/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	askJSON  bool
	askSteps bool
	askPlain bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a single question",
	Long: `Run one query through a fresh agent session and print the answer.
Example: dotagent ask "What is the pool balance of 5F3sa2TJ... on west_asset_hub?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response, including the trace, as JSON")
	askCmd.Flags().BoolVar(&askSteps, "steps", false, "print the trace after the answer")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "disable markdown rendering")
	rootCmd.AddCommand(askCmd)
}

// askOutput is the JSON shape of an answered query
type askOutput struct {
	agent.AgentResponse
	SessionID string                `json:"session_id"`
	Steps     []agent.MessageRecord `json:"steps"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query is required")
	}

	rt, err := loadEnvironment(cmd, environmentOptions{agent: true, interactive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	session, err := rt.newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resp, err := session.Run(ctx, query)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(askOutput{
			AgentResponse: resp,
			SessionID:     session.ID(),
			Steps:         agent.Records(resp.Steps),
		})
	}

	r := newRenderer(out, askPlain)
	r.Answer(resp)
	if askSteps {
		r.Steps(resp)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
