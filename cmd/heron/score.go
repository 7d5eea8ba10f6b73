package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/normalize"
	"github.com/opensource-finance/heron/internal/observability"
	"github.com/opensource-finance/heron/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Score one application read from a JSON file or stdin",
	Long: "Score one application and print the decision as JSON. The remote scorer is used when " +
		"HERON_REMOTE_URL is set; --local forces the heuristic scorer.",
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

var (
	scoreLocal       bool
	scoreRuleSetFile string
)

func init() {
	scoreCmd.Flags().BoolVar(&scoreLocal, "local", false, "Skip the remote scorer")
	scoreCmd.Flags().StringVar(&scoreRuleSetFile, "ruleset", "", "Path to a rule set JSON file to score with instead of the built-in one")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := domain.LoadFromEnv()
	if err != nil {
		return err
	}
	// Keep stdout for the result.
	cfg.Logging.Format = "text"
	slog.SetDefault(observability.NewLogger(cmd.ErrOrStderr(), cfg.Logging))

	raw, err := readApplicant(cmd, args)
	if err != nil {
		return err
	}

	engine, err := scoring.NewDefaultEngine()
	if err != nil {
		return err
	}
	if scoreRuleSetFile != "" {
		rs, err := readRuleSet(scoreRuleSetFile)
		if err != nil {
			return err
		}
		if err := engine.Activate(rs); err != nil {
			return err
		}
	}

	if scoreLocal {
		cfg.Remote.URL = ""
	}
	p, err := newPipeline(cfg.Remote, engine)
	if err != nil {
		return err
	}

	res, err := p.Predict(cmd.Context(), raw)
	var ve *normalize.ValidationError
	if errors.As(err, &ve) {
		return fmt.Errorf("invalid application: %w", ve)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func readApplicant(cmd *cobra.Command, args []string) (map[string]any, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse application JSON: %w", err)
	}
	return raw, nil
}

func readRuleSet(path string) (*domain.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rs domain.RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule set %s: %w", path, err)
	}
	return &rs, nil
}
