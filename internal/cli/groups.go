package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/SAP-F-2025/article-service/internal/models"
	"github.com/SAP-F-2025/article-service/internal/services"
)

func newGroupsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage article groups and their members",
	}
	cmd.AddCommand(
		newGroupsListCommand(rt),
		newGroupsCreateCommand(rt),
		newGroupsUpdateCommand(rt),
		newGroupsDeleteCommand(rt),
		newGroupsMembersCommand(rt),
		newGroupsAddMemberCommand(rt),
		newGroupsRemoveMemberCommand(rt),
		newGroupsSetAdminCommand(rt),
	)
	return cmd
}

func newGroupsListCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups with member and article counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			groups, err := rt.app.Services.Group().ListGroups(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, len(groups))
			for i, g := range groups {
				rows[i] = []string{
					g.ID.String(),
					strconv.FormatBool(g.Protected),
					strconv.Itoa(len(g.Members)),
					strconv.Itoa(models.AdminCount(g.Members)),
					strconv.FormatInt(g.ArticleCount, 10),
					g.Name,
				}
			}
			return rt.table(cmd, groups, []string{"ID", "PROTECTED", "MEMBERS", "ADMINS", "ARTICLES", "NAME"}, rows)
		},
	}
}

func newGroupsCreateCommand(rt *runtime) *cobra.Command {
	var (
		req      models.GroupCreateRequest
		admins   []string
		members  []string
		articles []string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group; without --admin or --member you become its admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			req.Name = args[0]
			for _, u := range admins {
				req.Members = append(req.Members, models.GroupMemberRequest{UserID: u, IsAdmin: true})
			}
			for _, u := range members {
				req.Members = append(req.Members, models.GroupMemberRequest{UserID: u})
			}
			for _, a := range articles {
				id, err := models.ParseArticleID(a)
				if err != nil {
					return err
				}
				req.Articles = append(req.Articles, id)
			}

			details, err := rt.app.Services.Group().CreateGroup(ctx, actor, &req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), details.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&req.Protected, "protected", false, "restrict the group's articles to its members")
	f.StringSliceVar(&admins, "admin", nil, "user id to add as group admin, repeatable")
	f.StringSliceVar(&members, "member", nil, "user id to add as member, repeatable")
	f.StringSliceVar(&articles, "article", nil, "article id to link, repeatable")
	return cmd
}

func newGroupsUpdateCommand(rt *runtime) *cobra.Command {
	var (
		name      string
		protected bool
	)
	cmd := &cobra.Command{
		Use:   "update <group-id>",
		Short: "Rename a group or change its protection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseGroupID(args[0])
			if err != nil {
				return err
			}

			var req services.UpdateGroupRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("protected") {
				req.Protected = &protected
			}
			group, err := rt.app.Services.Group().UpdateGroup(ctx, actor, id, &req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s: %s (protected=%t)\n", group.ID, group.Name, group.Protected)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().BoolVar(&protected, "protected", false, "protection flag")
	return cmd
}

func newGroupsDeleteCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <group-id>",
		Short: "Delete a group that is not the only group of any article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			if err := rt.app.Services.Group().DeleteGroup(ctx, actor, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted group %s\n", id)
			return nil
		},
	}
}

func newGroupsMembersCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "members <group-id>",
		Short: "List the members of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			members, err := rt.app.Services.Membership().Members(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := make([][]string, len(members))
			for i, m := range members {
				rows[i] = []string{m.UserID, m.Username, strconv.FormatBool(m.IsAdmin)}
			}
			return rt.table(cmd, members, []string{"USER", "USERNAME", "ADMIN"}, rows)
		},
	}
}

func newGroupsAddMemberCommand(rt *runtime) *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "add-member <group-id> <user-id>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			return rt.app.Services.Membership().AddMember(ctx, actor, id, args[1], admin)
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "make the user a group admin")
	return cmd
}

func newGroupsRemoveMemberCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-member <group-id> <user-id>",
		Short: "Remove a user from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			return rt.app.Services.Membership().RemoveMember(ctx, actor, id, args[1])
		},
	}
}

func newGroupsSetAdminCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "set-admin <group-id> <user-id> <true|false>",
		Short: "Grant or revoke the group admin flag",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseGroupID(args[0])
			if err != nil {
				return err
			}
			flag, err := strconv.ParseBool(args[2])
			if err != nil {
				return fmt.Errorf("invalid admin flag %q", args[2])
			}
			return rt.app.Services.Membership().SetAdmin(ctx, actor, id, args[1], flag)
		},
	}
}
