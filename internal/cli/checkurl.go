package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewCheckURLCmd creates the check-url command.
func NewCheckURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "check-url URL",
		SilenceUsage: true,
		Short:        "Check whether a URL can be downloaded",
		Long: `Report which backend handles URL, whether the source is reachable and the
file name it would be saved under.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckURL(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runCheckURL(ctx context.Context, out io.Writer, rawURL string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry := loadRegistry(cfg)
	backend, err := registry.Select(rawURL)
	if err != nil {
		kinds := make([]string, 0, len(registry.Backends()))
		for _, b := range registry.Backends() {
			kinds = append(kinds, string(b.Kind()))
		}
		_, _ = fmt.Fprintf(out, "backend:   none (supported: %s)\n", strings.Join(kinds, ", "))
		return err
	}
	_, _ = fmt.Fprintf(out, "backend:   %s\n", backend.Kind())

	if err := backend.CheckAvailable(ctx, rawURL); err != nil {
		_, _ = fmt.Fprintln(out, "available: no")
		return err
	}
	_, _ = fmt.Fprintln(out, "available: yes")

	if name := backend.ResolveFilename(ctx, rawURL); name != "" {
		_, _ = fmt.Fprintf(out, "filename:  %s\n", name)
	}
	return nil
}
