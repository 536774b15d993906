// Command chatserve trains and serves n-gram sentence completions for chat messages.
package main

import (
	"fmt"
	"os"

	"github.com/bastiangx/chatserve/internal/logger"
	"github.com/bastiangx/chatserve/internal/utils"
	"github.com/bastiangx/chatserve/pkg/config"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	AppName = "chatserve"
	gh      = "https://github.com/bastiangx/chatserve"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           AppName,
		Short:         "Sentence completions for chat messages",
		Long:          "Trains an n-gram model on conversation history and completes partially typed chat messages.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML or YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Toggle debug logging")

	rootCmd.AddCommand(newTrainCmd(flags))
	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newCompleteCmd(flags))
	rootCmd.AddCommand(newVersionCmd(flags))
	return rootCmd
}

// loadConfig resolves, validates and applies the config before any command runs.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.debug {
		log.SetLevel(log.DebugLevel)
	}
	cfg, path, err := config.LoadConfigWithPriority(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", config.GetActiveConfigPath(path), err)
	}
	if err := logger.Setup(logger.Options{
		Debug:     flags.debug,
		Format:    cfg.Log.Format,
		Timestamp: cfg.Log.Timestamp,
	}); err != nil {
		return nil, err
	}
	if path != "" {
		log.Debugf("Using config file: (%s)", config.GetActiveConfigPath(path))
	}
	return cfg, nil
}

// resolveModelPath looks for the artifact next to the binary and in the config dir too.
func resolveModelPath(path string) string {
	resolver, err := utils.NewPathResolver()
	if err != nil {
		log.Debugf("Path resolver unavailable: %v", err)
		return path
	}
	return resolver.ResolveModelPath(path)
}

func newVersionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current version",
		Run: func(cmd *cobra.Command, args []string) {
			banner := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
				ReportCaller:    false,
				ReportTimestamp: false,
			})

			styles := log.DefaultStyles()
			styles.Values["version"] = lipgloss.NewStyle().Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
				Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
			styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
			banner.SetStyles(styles)

			banner.Print("")
			banner.Print("[ chatserve ] Completes chat messages, one sentence at a time")
			banner.Print("", "version", Version)
			banner.Print("")
			banner.Print("use -h or --help to see available commands")
			banner.Print("Github Repo", "gh", gh)

			if flags.debug {
				if resolver, err := utils.NewPathResolver(); err == nil {
					for k, v := range resolver.GetRuntimeInfo() {
						banner.Print("", k, v)
					}
				}
			}
		},
	}
}
