package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/harun/dotagent/pkg/tools"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	toolsFormat string
	toolArgs    string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the agent can call",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <name>",
	Short: "Invoke one tool directly",
	Long: `Invoke a tool without a model, with arguments given as a JSON object.
Example: dotagent tools call get_chain_head --args '{"chain":"polkadot"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runToolsCall,
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsFormat, "format", "f", "table", "output format (table, json, yaml)")
	toolsCallCmd.Flags().StringVar(&toolArgs, "args", "{}", "tool arguments as a JSON object")
	toolsCmd.AddCommand(toolsCallCmd)
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	rt, err := loadEnvironment(cmd, environmentOptions{interactive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	return writeDefinitions(cmd.OutOrStdout(), rt.registry.Definitions(), toolsFormat)
}

func writeDefinitions(out io.Writer, defs []tools.Definition, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(defs); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPARAMETERS\tDESCRIPTION")
		for _, def := range defs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, parameterSummary(def.Parameters), def.Description)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown format %q (must be one of: table, json, yaml)", format)
	}
}

// parameterSummary renders schema properties as "a, b?" with optional ones marked
func parameterSummary(schema map[string]interface{}) string {
	props, _ := schema["properties"].(map[string]interface{})
	required := map[string]bool{}
	switch list := schema["required"].(type) {
	case []string:
		for _, name := range list {
			required[name] = true
		}
	case []interface{}:
		for _, name := range list {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		if !required[name] {
			name += "?"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(toolArgs), &input); err != nil {
		return fmt.Errorf("invalid --args: %w", err)
	}

	rt, err := loadEnvironment(cmd, environmentOptions{interactive: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	tool, ok := rt.registry.Find(args[0])
	if !ok {
		return &tools.ToolNotFoundError{Name: args[0]}
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := tool.Invoke(ctx, input)
	if err != nil {
		return err
	}

	text, _ := tools.FormatResult(result)
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
