package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/definition"
	"github.com/rendis/nodeflow/pkg/schema"
)

type runFlags struct {
	input   string
	journal bool
	compact bool
}

func newRunCmd(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a flow definition once and print its final shared context",
		Long: `Loads a YAML or JSON flow definition, validates it and runs it to completion.
The final shared context is printed to stdout as JSON. On failure the error
code and message are printed and the exit status is 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if cmd.Flags().Changed("journal") {
				a.cfg.Journal = flags.journal
			}
			return runFlow(cmd, a, args[0], flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.input, "input", "", "Initial shared context as a JSON object")
	f.BoolVar(&flags.journal, "journal", false, "Record the run in the journal")
	f.BoolVar(&flags.compact, "compact", false, "Print the context on one line")
	return cmd
}

func runFlow(cmd *cobra.Command, a *app, path string, flags runFlags) error {
	ctx := cmd.Context()

	var input map[string]any
	if flags.input != "" {
		if err := json.Unmarshal([]byte(flags.input), &input); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "--input must be a JSON object: %s", err)
		}
	}

	if a.cfg.Journal {
		if _, err := a.openJournal(ctx); err != nil {
			return err
		}
	}
	b, err := a.builder()
	if err != nil {
		return err
	}
	def, err := definition.Load(path)
	if err != nil {
		return err
	}
	built, err := b.Build(def)
	if err != nil {
		return err
	}
	defer built.Close()

	ex := built.Run(ctx, input)
	shared, err := ex.Wait(ctx)
	logger := logging.LogWith(logging.WithRun(ctx, def.Name, ex.RunID()), a.logger)
	if err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("run succeeded")

	var out []byte
	if flags.compact {
		out, err = json.Marshal(shared)
	} else {
		out, err = json.MarshalIndent(shared, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
