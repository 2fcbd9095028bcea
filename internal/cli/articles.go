package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SAP-F-2025/article-service/internal/models"
)

func newArticlesCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "articles",
		Short: "Read and manage help articles",
	}
	cmd.AddCommand(
		newArticlesListCommand(rt),
		newArticlesSearchCommand(rt),
		newArticlesShowCommand(rt),
		newArticlesCreateCommand(rt),
		newArticlesDeleteCommand(rt),
		newArticlesAttachCommand(rt),
		newArticlesDetachCommand(rt),
	)
	return cmd
}

func (rt *runtime) printArticles(cmd *cobra.Command, articles []*models.HelpArticle) error {
	rows := make([][]string, len(articles))
	for i, a := range articles {
		rows[i] = []string{a.ID.String(), string(a.Level), groupList(a.Groups), a.Title}
	}
	return rt.table(cmd, articles, []string{"ID", "LEVEL", "GROUPS", "TITLE"}, rows)
}

func newArticlesListCommand(rt *runtime) *cobra.Command {
	var groups string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the articles you can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			actor, err := rt.actor(ctx)
			if err != nil {
				return err
			}
			ids, err := models.ParseGroupIDs(groups)
			if err != nil {
				return err
			}

			var articles []*models.HelpArticle
			if len(ids) > 0 {
				articles, err = rt.app.Services.Article().ListByGroups(ctx, actor, ids)
			} else {
				articles, err = rt.app.Services.Article().ListVisibleTo(ctx, actor)
			}
			if err != nil {
				return err
			}
			return rt.printArticles(cmd, articles)
		},
	}
	cmd.Flags().StringVar(&groups, "groups", "", "comma separated group ids")
	return cmd
}

func newArticlesSearchCommand(rt *runtime) *cobra.Command {
	var (
		groups string
		level  string
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search titles, abstracts, authors and keywords",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.actor(ctx)
			if err != nil {
				return err
			}

			filters := models.ArticleFilters{}
			if len(args) == 1 {
				filters.Query = args[0]
			}
			if filters.Groups, err = models.ParseGroupIDs(groups); err != nil {
				return err
			}
			if level != "" {
				l := models.ArticleLevel(strings.ToUpper(level))
				filters.Level = &l
			}

			articles, err := rt.app.Services.Article().Search(ctx, actor, filters)
			if err != nil {
				return err
			}
			return rt.printArticles(cmd, articles)
		},
	}
	cmd.Flags().StringVar(&groups, "groups", "", "comma separated group ids")
	cmd.Flags().StringVar(&level, "level", "", "BEGINNER, INTERMEDIATE, ADVANCED or EXPERT")
	return cmd
}

func newArticlesShowCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show <article-id>",
		Short: "Print one article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.actor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseArticleID(args[0])
			if err != nil {
				return err
			}

			a, err := rt.app.Services.Article().Get(ctx, actor, id)
			if err != nil {
				return err
			}
			if rt.asJSON {
				return rt.printJSON(cmd.OutOrStdout(), a)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n\n", a.Title)
			fmt.Fprintf(out, "ID:         %s\n", a.ID)
			fmt.Fprintf(out, "Level:      %s\n", a.Level)
			fmt.Fprintf(out, "Groups:     %s\n", groupList(a.Groups))
			fmt.Fprintf(out, "Authors:    %s\n", strings.Join(a.Authors, ", "))
			fmt.Fprintf(out, "Keywords:   %s\n", strings.Join(a.Keywords, ", "))
			if a.Abstract != "" {
				fmt.Fprintf(out, "\n%s\n", a.Abstract)
			}
			fmt.Fprintf(out, "\n%s\n", a.Body)
			for _, ref := range a.References {
				fmt.Fprintf(out, "  - %s\n", ref)
			}
			return nil
		},
	}
}

func newArticlesCreateCommand(rt *runtime) *cobra.Command {
	var (
		req      models.ArticleCreateRequest
		level    string
		groups   string
		bodyFile string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			if req.Groups, err = models.ParseGroupIDs(groups); err != nil {
				return err
			}
			req.Level = models.ArticleLevel(strings.ToUpper(level))
			if bodyFile != "" {
				body, err := readInput(cmd, bodyFile)
				if err != nil {
					return err
				}
				req.Body = body
			}

			a, err := rt.app.Services.Article().Create(ctx, actor, &req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Title, "title", "", "article title")
	f.StringVar(&req.Abstract, "abstract", "", "short summary")
	f.StringVar(&req.Body, "body", "", "article body")
	f.StringVar(&bodyFile, "body-file", "", "read the body from a file, - for stdin")
	f.StringSliceVar(&req.Authors, "author", nil, "author, repeatable")
	f.StringSliceVar(&req.Keywords, "keyword", nil, "keyword, repeatable")
	f.StringSliceVar(&req.References, "reference", nil, "reference, repeatable")
	f.StringVar(&level, "level", string(models.LevelBeginner), "BEGINNER, INTERMEDIATE, ADVANCED or EXPERT")
	f.StringVar(&groups, "groups", "", "comma separated group ids")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("groups")
	return cmd
}

func newArticlesDeleteCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <article-id>",
		Short: "Delete an article and its group links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseArticleID(args[0])
			if err != nil {
				return err
			}
			if err := rt.app.Services.Article().Delete(ctx, actor, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}

func newArticlesAttachCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <article-id> <group-id>",
		Short: "Add an article to one more group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseArticleID(args[0])
			if err != nil {
				return err
			}
			groupID, err := models.ParseGroupID(args[1])
			if err != nil {
				return err
			}
			if err := rt.app.Services.Article().AttachToGroup(ctx, actor, id, groupID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attached %s to group %s\n", id, groupID)
			return nil
		},
	}
}

func newArticlesDetachCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "detach <article-id> <group-id>",
		Short: "Remove an article from one of its groups",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := rt.requireActor(ctx)
			if err != nil {
				return err
			}
			id, err := models.ParseArticleID(args[0])
			if err != nil {
				return err
			}
			groupID, err := models.ParseGroupID(args[1])
			if err != nil {
				return err
			}
			if err := rt.app.Services.Article().DetachFromGroup(ctx, actor, id, groupID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "detached %s from group %s\n", id, groupID)
			return nil
		},
	}
}

func groupList(ids []models.GroupID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
