package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"can-safety-gateway/internal/modes"
)

// ModesOptions holds flags for the modes command.
type ModesOptions struct {
	*RootOptions
	JSON bool
}

// NewModesCommand creates the modes command.
func NewModesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ModesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "modes",
		Short:         "List the registered safety modes",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts.JSON {
				return writeJSON(out, map[string]any{"default": modes.Default, "modes": modes.Names()})
			}
			for _, name := range modes.Names() {
				if name == modes.Default {
					fmt.Fprintf(out, "%s (default)\n", name)
					continue
				}
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print as JSON")

	return cmd
}
