// Command studio runs the musician studio's agents from the terminal and
// inspects the control plane around them: jobs, quota usage, the agent
// roster and pending approvals.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"indiistudio/internal/config"
	"indiistudio/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	userID     string
	tierFlag   string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "indiiStudio - agent runtime for independent musicians",
	Long: `studio runs the indiiStudio agents from the terminal.

A task goes to an agent (Agent Zero by default), which can generate cover
art and video, delegate to specialists, ask you for approval and remember
facts about your project. Every paid operation is checked against your
subscription tier before it runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.NewCLILogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.Initialize(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".studio/config.yaml", "Config file")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "local", "User id quotas and jobs are scoped to")
	rootCmd.PersistentFlags().StringVar(&tierFlag, "tier", "", "Subscription tier (default: config default_tier)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

// loadConfig loads and validates the config file, applying the tier flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	for _, cat := range cfg.Logging.Disabled {
		logging.SetCategoryEnabled(logging.Category(cat), false)
	}
	return cfg, nil
}

func tierOf(cfg *config.Config) string {
	if tierFlag != "" {
		return tierFlag
	}
	return cfg.DefaultTier
}
