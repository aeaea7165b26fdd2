package main

import (
	"github.com/spf13/cobra"
)

// rootFlags override the loaded configuration for every subcommand.
type rootFlags struct {
	logLevel  string
	logFormat string
	dbPath    string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	a := &app{}

	root := &cobra.Command{
		Use:   "nodeflow",
		Short: "Run declarative node flows",
		Long: "nodeflow loads flow definitions written in YAML or JSON, validates them,\n" +
			"and runs them with per-node retries, batching and a run journal.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.init(cmd, flags)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&flags.dbPath, "db", "", "Path of the run journal database")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newDiagramCmd(a),
		newVersionCmd(),
	)
	return root
}
