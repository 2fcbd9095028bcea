package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/repositories"
)

func newRolesCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and change platform roles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "whoami",
			Short: "Print the acting user and their roles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				user, err := rt.requireActor(cmd.Context())
				if err != nil {
					return err
				}
				if rt.asJSON {
					return rt.printJSON(cmd.OutOrStdout(), user)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) roles: %s\n", user.ID, user.Username, user.Roles)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <user-id> <role>",
			Short: "Take a platform role away from a user",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				actor, err := rt.requireActor(ctx)
				if err != nil {
					return err
				}
				role, err := models.ParseRole(strings.ToUpper(args[1]))
				if err != nil {
					return err
				}
				if err := rt.app.Services.UserRole().RemoveRole(ctx, actor, args[0], role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s from %s\n", role, args[0])
				return nil
			},
		},
	)
	return cmd
}

func newUsersCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Browse the identity directory",
	}

	var (
		filters repositories.UserFilters
		role    string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List users with their platform roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			if role != "" {
				r, err := models.ParseRole(role)
				if err != nil {
					return err
				}
				filters.Role = &r
			}
			resp, err := rt.app.Services.UserRole().ListUsers(ctx, actor, filters)
			if err != nil {
				return err
			}
			rows := make([][]string, len(resp.Users))
			for i, u := range resp.Users {
				rows[i] = []string{u.ID, u.Username, u.Roles.String(), u.FullName}
			}
			if err := rt.table(cmd, resp, []string{"ID", "USERNAME", "ROLES", "NAME"}, rows); err != nil {
				return err
			}
			if !rt.asJSON && int64(filters.Offset+len(resp.Users)) < resp.Total {
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d shown\n", len(resp.Users), resp.Total)
			}
			return nil
		},
	}
	list.Flags().StringVar(&filters.Query, "query", "", "match username or full name")
	list.Flags().StringVar(&role, "role", "", "only users holding this role")
	list.Flags().IntVar(&filters.Limit, "limit", 20, "page size")
	list.Flags().IntVar(&filters.Offset, "offset", 0, "rows to skip")

	cmd.AddCommand(list)
	return cmd
}

func newInviteCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Invitation codes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "redeem <code>",
		Short: "Redeem an invitation code for the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			granted, err := rt.app.Services.UserRole().RedeemInvitation(ctx, actor.ID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s\n", granted)
			return nil
		},
	})
	return cmd
}

func newHelpRequestsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "help-requests",
		Short: "Ask for help when no article answers a question",
	}

	var searches []string
	send := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a help request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			req, err := rt.app.Services.HelpRequest().SendHelpRequest(ctx, actor, &models.HelpRequestCreateRequest{
				Message:       args[0],
				SearchHistory: searches,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "help request %d sent\n", req.ID)
			return nil
		},
	}
	send.Flags().StringSliceVar(&searches, "searched", nil, "query tried before asking, repeatable")

	var filters repositories.HelpRequestFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List help requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			resp, err := rt.app.Services.HelpRequest().ListHelpRequests(ctx, actor, filters)
			if err != nil {
				return err
			}
			rows := make([][]string, len(resp.Requests))
			for i, r := range resp.Requests {
				rows[i] = []string{fmt.Sprint(r.ID), r.UserID, r.CreatedAt.Format("2006-01-02 15:04"), r.Message}
			}
			return rt.table(cmd, resp, []string{"ID", "USER", "CREATED", "MESSAGE"}, rows)
		},
	}
	list.Flags().IntVar(&filters.Limit, "limit", 20, "page size")
	list.Flags().IntVar(&filters.Offset, "offset", 0, "rows to skip")

	cmd.AddCommand(send, list)
	return cmd
}
