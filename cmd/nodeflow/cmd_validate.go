package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/pkg/definition"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check flow definitions without running them",
		Long: `Runs the structural, semantic and graph checks on each definition and
prints every error and warning. The exit status is 1 if any file is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.builder()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			invalid := 0
			for _, path := range args {
				def, err := definition.Load(path)
				if err != nil {
					invalid++
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				res := b.Validate(def)
				if res.Valid() {
					fmt.Fprintf(out, "%s: ok\n", path)
				} else {
					invalid++
					fmt.Fprintf(out, "%s: invalid\n", path)
				}
				for _, issue := range res.Errors {
					fmt.Fprintf(out, "  %s\n", issue)
				}
				for _, issue := range res.Warnings {
					fmt.Fprintf(out, "  %s\n", issue)
				}
			}
			if invalid > 0 {
				return schema.NewErrorf(schema.ErrCodeValidation, "%d of %d definitions are invalid", invalid, len(args))
			}
			return nil
		},
	}
}
