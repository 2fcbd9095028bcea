package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/services"
)

// App is what every command runs against
type App struct {
	Services services.ServiceManager
	Logger   *slog.Logger
}

type runtime struct {
	app    *App
	asUser string
	asJSON bool
}

// NewRootCommand wires every subcommand to app. Commands resolve the acting
// user, by id or username, from --as or ARTICLE_USER.
func NewRootCommand(app *App) *cobra.Command {
	rt := &runtime{app: app}

	root := &cobra.Command{
		Use:           "article-service",
		Short:         "Encrypted help articles organized in access-controlled groups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rt.asUser, "as", os.Getenv("ARTICLE_USER"), "user id or username to act as")
	root.PersistentFlags().BoolVar(&rt.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		newHealthCommand(rt),
		newArticlesCommand(rt),
		newGroupsCommand(rt),
		newBackupCommand(rt),
		newRestoreCommand(rt),
		newExportCommand(rt),
		newRolesCommand(rt),
		newUsersCommand(rt),
		newInviteCommand(rt),
		newHelpRequestsCommand(rt),
	)
	return root
}

// actor loads the acting user. Without --as commands run anonymously.
func (rt *runtime) actor(ctx context.Context) (*models.User, error) {
	if rt.asUser == "" {
		return nil, nil
	}
	user, err := rt.app.Services.UserRole().CurrentUser(ctx, rt.asUser)
	if err != nil {
		return nil, fmt.Errorf("cannot act as %q: %w", rt.asUser, err)
	}
	return user, nil
}

func (rt *runtime) requireActor(ctx context.Context) (*models.User, error) {
	user, err := rt.actor(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("this command needs --as or ARTICLE_USER")
	}
	return user, nil
}

func (rt *runtime) printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes rows aligned by tabs, or v as JSON under --json
func (rt *runtime) table(cmd *cobra.Command, v interface{}, header []string, rows [][]string) error {
	if rt.asJSON {
		return rt.printJSON(cmd.OutOrStdout(), v)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, r := range rows {
		writeRow(tw, r)
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}

func newHealthCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the store and the encryption key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.app.Services.HealthCheck(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
