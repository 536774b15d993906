package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bastiangx/chatserve/internal/utils"
	"github.com/bastiangx/chatserve/pkg/config"
	"github.com/bastiangx/chatserve/pkg/corpus"
	"github.com/bastiangx/chatserve/pkg/ngram"
	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func newTrainCmd(flags *globalFlags) *cobra.Command {
	var (
		corpusPath      string
		modelPath       string
		order           int
		floor           float64
		groups          []int
		includeCustomer bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model from a conversation corpus",
		Example: `  chatserve train --corpus data/sample_conversations.json --model data/model.msgpack --order 3
  chatserve train --group 50001 --group 50002 --include-customer`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			fs := cmd.Flags()
			if fs.Changed("corpus") {
				cfg.Train.Corpus = corpusPath
			}
			if fs.Changed("model") {
				cfg.Model.Path = modelPath
			}
			if fs.Changed("order") {
				cfg.Model.MaxOrder = order
			}
			if fs.Changed("floor") {
				cfg.Model.FloorProbability = floor
			}
			if fs.Changed("group") {
				cfg.Train.CompanyGroupIDs = groups
			}
			if fs.Changed("include-customer") {
				cfg.Train.IncludeCustomer = includeCustomer
			}
			_, err = runTrain(cfg)
			return err
		},
	}

	cmd.Flags().StringVar(&corpusPath, "corpus", "", "Conversation corpus (JSON)")
	cmd.Flags().StringVar(&modelPath, "model", "", "Output model artifact")
	cmd.Flags().IntVar(&order, "order", 0, "Maximum n-gram order")
	cmd.Flags().Float64Var(&floor, "floor", 0, "Floor probability for unseen tokens")
	cmd.Flags().IntSliceVar(&groups, "group", nil, "Company group IDs to train on (repeatable, default all)")
	cmd.Flags().BoolVar(&includeCustomer, "include-customer", false, "Train on customer messages too")
	return cmd
}

// runTrain loads the corpus, trains a model and writes the artifact.
func runTrain(cfg *config.Config) (*ngram.Model, error) {
	start := time.Now()
	messages, err := corpus.LoadMessages(cfg.Train.Corpus, cfg.CorpusFilter())
	if err != nil {
		return nil, err
	}

	model, err := ngram.Train(normalize.New().Sentences(messages), cfg.Model.MaxOrder, cfg.Model.FloorProbability)
	if err != nil {
		return nil, fmt.Errorf("failed to train on %s: %w", cfg.Train.Corpus, err)
	}

	dir := filepath.Dir(cfg.Model.Path)
	if err := utils.WritableDir(dir); err != nil {
		return nil, fmt.Errorf("model dir: %w", err)
	}
	if err := model.SaveFile(cfg.Model.Path); err != nil {
		return nil, err
	}

	stats := model.Stats()
	log.Info("Model trained",
		"messages", utils.FormatCount(len(messages)),
		"order", model.Order(),
		"vocabulary", utils.FormatCount(stats["vocabulary"]),
		"path", utils.AbsPath(cfg.Model.Path),
		"took", time.Since(start).Round(time.Millisecond))
	return model, nil
}
