package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/comigor/forkchat/internal/history"
	"github.com/comigor/forkchat/internal/render"
)

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects, which group conversations",
	}
	cmd.AddCommand(
		newProjectNewCmd(a),
		newProjectListCmd(a),
		newProjectDeleteCmd(a),
	)
	return cmd
}

func newProjectNewCmd(a *app) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "new <name...>",
		Short: "Create a project and print its id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := history.Project{
				ID:          uuid.NewString(),
				Name:        strings.Join(args, " "),
				Description: description,
			}
			if err := a.store.CreateProject(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "project description")
	return cmd
}

func newProjectListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := a.store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tNAME\tDESCRIPTION")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", render.ShortID(p.ID), p.CreatedAt.Local().Format(time.DateTime), p.Name, p.Description)
			}
			return w.Flush()
		},
	}
}

func newProjectDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete a project with all of its conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.store.DeleteProject(cmd.Context(), id)
		},
	}
}

// resolveProject maps a project id, a unique id prefix or an exact name to
// the project id.
func (a *app) resolveProject(ctx context.Context, ref string) (string, error) {
	if _, err := a.store.GetProject(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, history.ErrProjectNotFound) {
		return "", err
	}

	projects, err := a.store.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, p := range projects {
		if ref != "" && (strings.HasPrefix(p.ID, ref) || p.Name == ref) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", errors.Wrapf(history.ErrProjectNotFound, "project %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", errors.Errorf("project %q is ambiguous", ref)
	}
}
