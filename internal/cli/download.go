package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/glorpus-work/mofetch/pkg/download"
	"github.com/glorpus-work/mofetch/pkg/errors"
	"github.com/glorpus-work/mofetch/pkg/model"
	"github.com/glorpus-work/mofetch/pkg/orchestrator"
	"github.com/glorpus-work/mofetch/pkg/store"
	"github.com/glorpus-work/mofetch/pkg/transport"
	"github.com/spf13/cobra"
)

type downloadOptions struct {
	group  string
	plain  bool
	asJSON bool
}

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	var opts downloadOptions

	cmd := &cobra.Command{
		Use:          "download [ID...]",
		SilenceUsage: true,
		Short:        "Download model files",
		Long: `Download the model files of the given records, or of every record in a group.
Files that already exist at their destination are skipped. Press q or Ctrl-C to
stop; partially downloaded files are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), cmd.OutOrStdout(), args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.group, "group", "g", "", "Download every record in this group")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print status lines instead of the interactive view")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the final batch state as JSON")

	return cmd
}

func runDownload(ctx context.Context, out io.Writer, args []string, opts downloadOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	records, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	selected, err := selectRecords(records, args, opts.group)
	if err != nil {
		return err
	}
	registry := loadRegistry(cfg)
	if err := validateURLs(registry, selected); err != nil {
		return err
	}

	exec, err := loadExecutor(cfg, records, registry)
	if err != nil {
		return err
	}

	items := make([]download.Item, 0, len(selected))
	rows := make([]batchItem, 0, len(selected))
	for _, r := range selected {
		items = append(items, download.ItemFromRecord(r))
		rows = append(rows, batchItem{id: r.ID, name: r.Name})
	}

	manager := orchestrator.NewManager(exec, exec.TempFiles())
	if err := manager.Start(context.WithoutCancel(ctx), items); err != nil {
		return err
	}
	stopOnCancel := context.AfterFunc(ctx, manager.Stop)
	defer stopOnCancel()

	pollOpts := orchestrator.PollOptions{
		Interval:  cfg.Settings.PollInterval,
		FullEvery: cfg.Settings.FullSnapshotEvery,
	}

	switch {
	case opts.asJSON:
		manager.Wait()
	case opts.plain || !isTerminal(out):
		reporter := newPlainReporter(out, rows)
		if err := orchestrator.Poll(context.WithoutCancel(ctx), manager, pollOpts, reporter.update); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, summary(manager.State()))
	default:
		if err := runBatchView(manager, pollOpts, rows); err != nil {
			manager.Stop()
			return err
		}
	}
	manager.Wait()

	state := manager.State()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(state); err != nil {
			return fmt.Errorf("failed to encode batch state: %w", err)
		}
	}
	return batchResult(state)
}

func runBatchView(manager *orchestrator.Manager, opts orchestrator.PollOptions, rows []batchItem) error {
	// keep log lines from tearing the full-screen view
	logger.SetOutput(io.Discard)
	defer logger.SetOutput(os.Stderr)

	program := tea.NewProgram(newBatchModel(manager, manager.Stop, opts, rows))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run progress view: %w", err)
	}
	return nil
}

func batchResult(state orchestrator.BatchState) error {
	switch state.Status {
	case download.StatusError:
		if state.Error != "" {
			return errors.Wrap(errors.ErrBatchFailed, state.Error)
		}
		counts := state.Counts()
		return errors.Wrapf(errors.ErrBatchFailed, "%d of %d items failed", counts[download.StatusError], len(state.Items))
	case download.StatusCancelled:
		return errors.ErrBatchCanceled
	}
	return nil
}

// selectRecords resolves ids and group members, keeping the order given and
// dropping repeats.
func selectRecords(records store.Store, args []string, group string) ([]*model.Record, error) {
	var selected []*model.Record
	seen := make(map[int64]bool)
	add := func(r *model.Record) {
		if !seen[r.ID] {
			seen[r.ID] = true
			selected = append(selected, r)
		}
	}

	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		r, err := records.GetRecordByID(id)
		if err != nil {
			return nil, err
		}
		add(r)
	}

	if group != "" {
		members, err := records.GetRecordsByGroup(group)
		if err != nil {
			return nil, err
		}
		for _, r := range members {
			add(r)
		}
	}

	if len(selected) == 0 {
		return nil, errors.Wrap(errors.ErrNoRecords, "pass record ids or --group")
	}
	return selected, nil
}

// validateURLs rejects the batch before it starts when any download URL has no
// backend. Unsupported preview URLs only warn.
func validateURLs(registry *transport.Registry, records []*model.Record) error {
	for _, r := range records {
		item := download.ItemFromRecord(r)
		if !registry.CanHandle(item.URL) {
			return errors.Wrapf(errors.ErrUnhandledURL, "record %d (%s): %q", r.ID, r.Name, item.URL)
		}
		if item.BackupURL != "" && !registry.CanHandle(item.BackupURL) {
			return errors.Wrapf(errors.ErrUnhandledURL, "record %d (%s) backup: %q", r.ID, r.Name, item.BackupURL)
		}
		if item.PreviewURL != "" && !registry.CanHandle(item.PreviewURL) {
			logger.Warn("Preview URL is not supported and will fail", logger.Fields{"id": r.ID, "url": item.PreviewURL})
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
