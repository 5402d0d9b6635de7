package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"structurecraft.ai/internal/app"
	"structurecraft.ai/internal/config"
	"structurecraft.ai/internal/llm"
)

var (
	// Global flags
	verbose    bool
	configPath string
	dataDir    string

	logger *zap.Logger

	// generator replaces the configured provider when set. Tests use it.
	generator llm.Generator
)

var rootCmd = &cobra.Command{
	Use:   "p2s",
	Short: "p2s - turn a prompt into a structure",
	Long: `p2s asks a language model for a layered structure document, saves it and
places it into a simulated voxel world.

Scripts are kept under the configured data directory and can be rebuilt,
listed or deleted by name.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return nil
		}
		var err error
		logger, err = app.NewLogger("", verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var buildCmd = &cobra.Command{
	Use:   "build x y z <prompt...>",
	Short: "Generate a structure from a prompt, save it and build it at x y z",
	Args:  cobra.MinimumNArgs(4),
	RunE:  runBuild,
}

var loadCmd = &cobra.Command{
	Use:   "load <name> x y z",
	Short: "Build a saved script at x y z",
	Args:  cobra.ExactArgs(4),
	RunE:  runLoad,
}

var runCmd = &cobra.Command{
	Use:   "run <file.json> x y z",
	Short: "Build a local structure document at x y z",
	Args:  cobra.ExactArgs(4),
	RunE:  runFile,
}

var planCmd = &cobra.Command{
	Use:   "plan <file.json> x y z",
	Short: "Print the voxels a structure document would leave, without building it",
	Args:  cobra.ExactArgs(4),
	RunE:  runPlan,
}

var listCmd = &cobra.Command{
	Use:   "list [limit]",
	Short: "List the latest saved scripts (1-50, default 10)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved script",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var promptCmd = &cobra.Command{
	Use:   "prompt [list|set <name>]",
	Short: "Show or switch the active system prompt",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runPrompt,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <id...>",
	Short: "Show how block ids resolve against the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

var buildsCmd = &cobra.Command{
	Use:   "builds [limit]",
	Short: "Show recent build history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuilds,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show where the effective configuration came from",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

var (
	snapshotPath string
	rotation     int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Data directory (overrides storage.dir)")

	for _, c := range []*cobra.Command{buildCmd, loadCmd, runCmd, planCmd} {
		c.Flags().StringVar(&snapshotPath, "snapshot", "", "World snapshot to load before and write after the build")
		c.Flags().IntVar(&rotation, "rotation", 0, "Quarter turns about the Y axis")
	}

	rootCmd.AddCommand(buildCmd, loadCmd, runCmd, planCmd, listCmd, deleteCmd, promptCmd, resolveCmd, buildsCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
