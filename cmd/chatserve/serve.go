package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bastiangx/chatserve/pkg/config"
	"github.com/bastiangx/chatserve/pkg/ngram"
	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/bastiangx/chatserve/pkg/server"
	"github.com/bastiangx/chatserve/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		ipc       bool
		host      string
		port      int
		modelPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve completions over HTTP, or msgpack IPC with --ipc",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("host") {
				cfg.Server.Host = host
			}
			if fs.Changed("port") {
				cfg.Server.Port = port
			}
			if fs.Changed("model") {
				cfg.Model.Path = modelPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			engine := suggest.NewEngine(normalize.New(), cfg.SearchOptions())
			reload := newReloader(engine, resolveModelPath(cfg.Model.Path))
			if _, err := reload(); err != nil {
				return fmt.Errorf("%w: %w", suggest.ErrModelNotLoaded, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := serverOptions(cfg, reload)
			if ipc {
				return server.NewIPCServer(engine, opts).Start(ctx)
			}
			return server.NewHTTPServer(engine, cfg.Addr(), opts).ListenAndServe(ctx)
		},
	}

	cmd.Flags().BoolVar(&ipc, "ipc", false, "Serve msgpack over stdin/stdout instead of HTTP")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host")
	cmd.Flags().IntVar(&port, "port", 0, "HTTP listen port")
	cmd.Flags().StringVar(&modelPath, "model", "", "Model artifact to serve")
	return cmd
}

func serverOptions(cfg *config.Config, reload server.ReloadFunc) server.Options {
	return server.Options{
		DefaultLimit: cfg.Server.DefaultLimit,
		MaxLimit:     cfg.Server.MaxLimit,
		MaxQueryLen:  cfg.Server.MaxQueryLen,
		Reload:       reload,
	}
}

// newReloader reads the artifact at path and publishes it on engine.
// A failed load leaves the current model in place.
func newReloader(engine *suggest.Engine, path string) server.ReloadFunc {
	return func() (map[string]int, error) {
		model, err := ngram.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load model %s: %w", path, err)
		}
		engine.Load(model)
		log.Info("Model loaded", "path", path, "order", model.Order(), "vocabulary", model.Vocabulary().Len())
		return engine.Stats(), nil
	}
}
