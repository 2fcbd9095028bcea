package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SAP-F-2025/article-service/internal/models"
)

func newBackupCommand(rt *runtime) *cobra.Command {
	var (
		groups string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write an encrypted backup of groups, articles, links and memberships",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			filter, err := models.ParseGroupIDs(groups)
			if err != nil {
				return err
			}
			if err := rt.app.Services.Backup().BackupToFile(ctx, actor, filter, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&groups, "groups", "", "comma separated group ids; all visible groups when empty")
	cmd.Flags().StringVarP(&out, "out", "o", "", "backup file to write")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newRestoreCommand(rt *runtime) *cobra.Command {
	var (
		in      string
		mode    string
		inspect bool
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Apply a backup in merge or replace mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if inspect {
				return rt.inspectBackup(cmd, in)
			}

			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			restoreMode := models.RestoreMode(strings.ToLower(mode))
			if !restoreMode.IsValid() {
				return fmt.Errorf("--mode must be merge or replace, got %q", mode)
			}

			report, err := rt.app.Services.Backup().RestoreFromFile(ctx, actor, in, restoreMode)
			if err != nil {
				return err
			}
			if rt.asJSON {
				return rt.printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"restored (%s): groups +%d ~%d, articles +%d skipped %d, links %d, memberships %d\n",
				report.Mode, report.GroupsInserted, report.GroupsUpdated,
				report.ArticlesInserted, report.ArticlesSkipped,
				report.LinksApplied, report.MembershipsApplied)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "backup file to read")
	cmd.Flags().StringVar(&mode, "mode", string(models.RestoreMerge), "merge or replace")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "only verify the file and print its summary")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func (rt *runtime) inspectBackup(cmd *cobra.Command, path string) error {
	envelope, data, err := rt.app.Services.Backup().InspectFile(path)
	if err != nil {
		return err
	}

	summary := map[string]interface{}{
		"version":     envelope.Version,
		"created_at":  envelope.CreatedAt,
		"created_by":  envelope.CreatedBy,
		"groups":      len(data.Groups),
		"articles":    len(data.Articles),
		"links":       len(data.Links),
		"memberships": len(data.Memberships),
	}
	if len(envelope.GroupFilter) > 0 {
		summary["group_filter"] = groupList(envelope.GroupFilter)
	}
	if rt.asJSON {
		return rt.printJSON(cmd.OutOrStdout(), summary)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version %d, created %s by %s\n", envelope.Version, envelope.CreatedAt.Format("2006-01-02 15:04:05 MST"), envelope.CreatedBy)
	if len(envelope.GroupFilter) > 0 {
		fmt.Fprintf(out, "groups filter: %s\n", groupList(envelope.GroupFilter))
	}
	fmt.Fprintf(out, "%d groups, %d articles, %d links, %d memberships\n",
		len(data.Groups), len(data.Articles), len(data.Links), len(data.Memberships))
	return nil
}

func newExportCommand(rt *runtime) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the visible catalog as an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			actor, err := rt.actor(ctx)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				f, createErr := os.Create(out)
				if createErr != nil {
					return fmt.Errorf("failed to create %s: %w", out, createErr)
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && err == nil {
						err = fmt.Errorf("failed to close %s: %w", out, cerr)
					}
				}()
				w = f
			}
			return rt.app.Services.ImportExport().ExportCatalog(ctx, actor, w)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "catalog.xlsx", "workbook to write, - for stdout")
	return cmd
}

// readInput reads a file, or stdin for "-"
func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
