package main

import (
	"fmt"
	"strings"

	"github.com/bastiangx/chatserve/internal/cli"
	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/bastiangx/chatserve/pkg/suggest"
	"github.com/spf13/cobra"
)

func newCompleteCmd(flags *globalFlags) *cobra.Command {
	var (
		interactive bool
		limit       int
		modelPath   string
	)

	cmd := &cobra.Command{
		Use:   "complete [TEXT]",
		Short: "Print completions for TEXT, or start a REPL with -i",
		Example: `  chatserve complete "hi how"
  chatserve complete "how can I "   # trailing space: complete the next word
  chatserve complete -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("model") {
				cfg.Model.Path = modelPath
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Server.DefaultLimit
			}

			engine := suggest.NewEngine(normalize.New(), cfg.SearchOptions())
			if _, err := newReloader(engine, resolveModelPath(cfg.Model.Path))(); err != nil {
				return err
			}

			if interactive {
				return cli.NewInputHandler(engine, limit, cfg.Server.MaxQueryLen).
					WithIO(cmd.InOrStdin(), cmd.OutOrStdout()).
					Start()
			}

			suggestions, err := engine.Complete(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cli.FormatSuggestions(suggestions))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read partial messages from stdin")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of suggestions")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model artifact to use")
	return cmd
}
