package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/harun/dotagent/internal/config"
	"github.com/harun/dotagent/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	initForce    bool
	initProvider string
	initModel    string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file with default values. API keys are best kept
in the environment (DOTAGENT_AGENT_API_KEY or the provider's own variable,
e.g. OPENAI_API_KEY).`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.NewLoader(cfgFile).GetConfigPath())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	configInitCmd.Flags().StringVar(&initProvider, "provider", "", "model provider ("+providerList()+")")
	configInitCmd.Flags().StringVar(&initModel, "model", "", "model name")

	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func providerList() string {
	names := make([]string, 0, len(agent.Providers()))
	for _, p := range agent.Providers() {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if initProvider != "" {
		provider, err := agent.ParseProvider(initProvider)
		if err != nil {
			return err
		}
		cfg.Agent.Provider = provider
	}
	if initModel != "" {
		cfg.Agent.Model = initModel
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
	if cfg.Agent.Provider.RequiresAPIKey() {
		fmt.Fprintln(cmd.OutOrStdout(), "Set DOTAGENT_AGENT_API_KEY before running dotagent ask.")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfg.String())

	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", problem)
	}
	return nil
}
