package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/pkg/definition"
	"github.com/rendis/nodeflow/pkg/schema"
)

type diagramFlags struct {
	format string
	runID  string
	out    string
}

func newDiagramCmd(a *app) *cobra.Command {
	var flags diagramFlags
	cmd := &cobra.Command{
		Use:   "diagram <file>",
		Short: "Draw a flow definition as ASCII, Mermaid, PNG or SVG",
		Long: `Renders the node graph of a definition. With --run the nodes are colored
by what that journaled run did and the transitions it took are highlighted.
Images are written to --out, text goes to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			def, err := definition.Load(args[0])
			if err != nil {
				return err
			}

			var events []*schema.Event
			if flags.runID != "" {
				j, err := a.openJournal(cmd.Context())
				if err != nil {
					return err
				}
				if events, err = j.ListEvents(cmd.Context(), flags.runID); err != nil {
					return err
				}
			}
			model := diagram.Build(def, events)

			switch flags.format {
			case "ascii":
				fmt.Fprint(cmd.OutOrStdout(), diagram.RenderASCII(model))
			case "mermaid":
				fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(model))
			case diagram.FormatPNG, diagram.FormatSVG:
				if flags.out == "" {
					return schema.NewErrorf(schema.ErrCodeValidation, "--out is required for %s output", flags.format)
				}
				img, err := diagram.RenderImage(cmd.Context(), model, flags.format)
				if err != nil {
					return err
				}
				if err := os.WriteFile(flags.out, img, 0o644); err != nil {
					return fmt.Errorf("write diagram: %w", err)
				}
			default:
				return schema.NewErrorf(schema.ErrCodeValidation, "unknown format %q: want ascii, mermaid, png or svg", flags.format)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.format, "format", "f", "ascii", "Output format: ascii, mermaid, png or svg")
	f.StringVar(&flags.runID, "run", "", "Overlay the status of this journaled run")
	f.StringVarP(&flags.out, "out", "o", "", "Output file for png and svg")
	return cmd
}
