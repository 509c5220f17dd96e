package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/glorpus-work/mofetch/internal/logger"
	"github.com/glorpus-work/mofetch/pkg/model"
	"github.com/glorpus-work/mofetch/pkg/store"
	"github.com/spf13/cobra"
)

// NewRecordCmd creates the record command with subcommands.
func NewRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "record",
		SilenceUsage: true,
		Short:        "Manage model records",
		Long:         "Add, list, show and remove the model records mofetch downloads from",
	}

	cmd.AddCommand(
		newRecordAddCmd(),
		newRecordListCmd(),
		newRecordShowCmd(),
		newRecordRemoveCmd(),
		newRecordGroupsCmd(),
		newRecordRestoreCmd(),
	)

	return cmd
}

type addOptions struct {
	name        string
	modelType   string
	url         string
	backupURL   string
	previewURL  string
	pageURL     string
	filename    string
	path        string
	subdir      string
	description string
	groups      []string
}

func newRecordAddCmd() *cobra.Command {
	var o addOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a model record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecordAdd(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}

	cmd.Flags().StringVar(&o.name, "name", "", "Record name")
	cmd.Flags().StringVarP(&o.modelType, "type", "t", string(model.ModelTypeOther), "Model type")
	cmd.Flags().StringVar(&o.url, "url", "", "Download URL")
	cmd.Flags().StringVar(&o.backupURL, "backup-url", "", "URL tried when the download URL is unavailable")
	cmd.Flags().StringVar(&o.previewURL, "preview-url", "", "Preview image URL")
	cmd.Flags().StringVar(&o.pageURL, "page-url", "", "Model page URL")
	cmd.Flags().StringVar(&o.filename, "filename", "", "Explicit file name")
	cmd.Flags().StringVar(&o.path, "path", "", "Download directory overriding the per-type directory")
	cmd.Flags().StringVar(&o.subdir, "subdir", "", "Subdirectory below the download directory")
	cmd.Flags().StringVar(&o.description, "description", "", "Free-form description")
	cmd.Flags().StringSliceVarP(&o.groups, "group", "g", nil, "Group to add the record to (repeatable)")
	must(cmd.MarkFlagRequired("name"))
	must(cmd.MarkFlagRequired("url"))

	return cmd
}

func runRecordAdd(ctx context.Context, out io.Writer, o addOptions) error {
	modelType, err := model.ParseModelType(o.modelType)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	records, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	id, err := records.AddRecord(&model.Record{
		Name:             o.name,
		Type:             modelType,
		DownloadURL:      o.url,
		BackupURL:        o.backupURL,
		PreviewURL:       o.previewURL,
		PageURL:          o.pageURL,
		DownloadFilename: o.filename,
		DownloadPath:     o.path,
		Subdir:           o.subdir,
		Description:      o.description,
		Groups:           o.groups,
	})
	if err != nil {
		return fmt.Errorf("failed to add record: %w", err)
	}

	logger.Success("Record added", logger.Fields{"id": id, "name": o.name})
	_, _ = fmt.Fprintln(out, id)
	return nil
}

func newRecordListCmd() *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List model records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecordList(cmd.Context(), cmd.OutOrStdout(), group)
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "", "Only list records in this group")

	return cmd
}

func runRecordList(ctx context.Context, out io.Writer, group string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	records, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	var list []*model.Record
	if group != "" {
		list, err = records.GetRecordsByGroup(group)
	} else {
		list, err = records.GetAllRecords()
	}
	if err != nil {
		return err
	}

	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "No records found")
		return nil
	}

	tabWriter := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(tabWriter, "ID\tNAME\tTYPE\tGROUPS\tSOURCE")
	for _, r := range list {
		source := r.Location
		if source == "" {
			source = truncate(r.DownloadURL, MaxURLLength)
		}
		_, _ = fmt.Fprintf(tabWriter, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Type, strings.Join(r.Groups, ","), source)
	}
	return tabWriter.Flush()
}

func newRecordShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a model record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordShow(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runRecordShow(ctx context.Context, out io.Writer, arg string) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	records, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	r, err := records.GetRecordByID(id)
	if err != nil {
		return err
	}

	tabWriter := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
	rows := [][2]string{
		{"id", strconv.FormatInt(r.ID, 10)},
		{"name", r.Name},
		{"type", string(r.Type)},
		{"download_url", r.DownloadURL},
		{"backup_url", r.BackupURL},
		{"preview_url", r.PreviewURL},
		{"page_url", r.PageURL},
		{"download_path", r.DownloadPath},
		{"download_filename", r.DownloadFilename},
		{"subdir", r.Subdir},
		{"groups", strings.Join(r.Groups, ", ")},
		{"location", r.Location},
		{"sha256", r.SHA256Hash},
		{"md5", r.MD5Hash},
		{"description", r.Description},
	}
	for _, row := range rows {
		if row[1] != "" {
			_, _ = fmt.Fprintf(tabWriter, "%s\t%s\n", row[0], row[1])
		}
	}
	return tabWriter.Flush()
}

func newRecordRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove ID",
		Aliases: []string{"rm"},
		Short:   "Remove a model record",
		Long:    "Remove a record from the store. Downloaded files are left in place.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := records.RemoveRecord(id); err != nil {
				return err
			}
			logger.Success("Record removed", logger.Fields{"id": id})
			return nil
		},
	}
}

func newRecordGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List record groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			groups, err := records.GetAvailableGroups()
			if err != nil {
				return err
			}
			for _, g := range groups {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), g)
			}
			return nil
		},
	}
}

func newRecordRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [VERSION]",
		Short: "Restore the record store from a migration backup",
		Long: `Without arguments, list the backups taken before store format migrations.
With a format version, replace the store with that backup.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backups, err := store.ListBackups(cfg.Settings.StorePath)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				if len(backups) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No backups found")
				}
				for _, b := range backups {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Version.Original(), b.Path)
				}
				return nil
			}

			for _, b := range backups {
				if b.Version.Original() == args[0] || b.Version.String() == args[0] {
					if err := store.RestoreBackup(cmd.Context(), cfg.Settings.StorePath, b.Path); err != nil {
						return err
					}
					logger.Success("Record store restored", logger.Fields{"version": b.Version.Original()})
					return nil
				}
			}
			return fmt.Errorf("no backup for format version %s", args[0])
		},
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record id %q: %w", arg, err)
	}
	return id, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
