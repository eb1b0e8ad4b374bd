package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/comigor/forkchat/internal/history"
	"github.com/comigor/forkchat/internal/render"
	"github.com/comigor/forkchat/internal/session"
	"github.com/comigor/forkchat/internal/tree"
)

func newNewCmd(a *app) *cobra.Command {
	var title, project string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a conversation and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var s *session.Session
			var err error
			if project == "" {
				s, err = session.Create(cmd.Context(), a.store, a.gen, title)
			} else {
				var projectID string
				if projectID, err = a.resolveProject(cmd.Context(), project); err != nil {
					return err
				}
				s, err = session.CreateInProject(cmd.Context(), a.store, a.gen, projectID, title)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "conversation title (default: first message)")
	cmd.Flags().StringVar(&project, "project", "", "project id, id prefix or name")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var convs []history.Conversation
			var err error
			if project == "" {
				convs, err = a.store.List(cmd.Context())
			} else {
				var projectID string
				if projectID, err = a.resolveProject(cmd.Context(), project); err != nil {
					return err
				}
				convs, err = a.store.ListInProject(cmd.Context(), projectID)
			}
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROJECT\tUPDATED\tTITLE")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, render.ShortID(c.ProjectID), c.UpdatedAt.Local().Format(time.DateTime), c.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "only conversations of this project")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chat>",
		Short: "Delete a conversation and all of its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.store.Delete(cmd.Context(), id)
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat> <message...>",
		Short: "Send a message from the current node and append the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = s.Send(cmd.Context(), strings.Join(args[1:], " "))
			if errors.Is(err, session.ErrGeneration) {
				// the user message is kept; show where the conversation stands
				if perr := a.printPath(cmd, s); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			return a.printPath(cmd, s)
		},
	}
}

func newRegenerateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <chat>",
		Short: "Generate another reply for the current user message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := s.Regenerate(cmd.Context()); err != nil {
				return err
			}
			return a.printPath(cmd, s)
		},
	}
}

func newAppendCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "append <chat> <text...>",
		Short: "Append a message under the current node without generating a reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := tree.ParseRole(role)
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			n, err := s.Append(cmd.Context(), strings.Join(args[1:], " "), r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(tree.RoleUser), "message role: user or assistant")
	return cmd
}

func newGotoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "goto <chat> <node>",
		Short: "Move the current node; the next message branches from there",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			id, err := s.Resolve(args[1])
			if err != nil {
				return err
			}
			if err := s.Navigate(cmd.Context(), id); err != nil {
				return err
			}
			return a.printPath(cmd, s)
		},
	}
}

func newPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path <chat>",
		Short: "Show the active path with branch indicators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printPath(cmd, s)
		},
	}
}

func newBranchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "branches <chat> <node>",
		Short: "List the continuations of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			id, err := s.Resolve(args[1])
			if err != nil {
				return err
			}
			branches, err := s.Branches(id)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Nodes(branches))
			return nil
		},
	}
}

func newFlagCmd(a *app) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "flag <chat> <node>",
		Short: "Mark a node as a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			id, err := s.Resolve(args[1])
			if err != nil {
				return err
			}
			return s.Flag(cmd.Context(), id, !off)
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "remove the checkpoint mark")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <chat> <node> <text...>",
		Short: "Replace the content of a message",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			id, err := s.Resolve(args[1])
			if err != nil {
				return err
			}
			return s.Edit(cmd.Context(), id, strings.Join(args[2:], " "))
		},
	}
}

func newCollapseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collapse <chat>",
		Short: "Show only checkpoints, each under its nearest checkpoint ancestor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPARENT\tLABEL")
			for _, n := range s.Collapsed() {
				label := tree.LabelFor(n.Content)
				if n.IsRoot() {
					label = n.Content
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", render.ShortID(n.ID), render.ShortID(n.ParentID), label)
			}
			return w.Flush()
		},
	}
}

func newLinksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "links <chat>",
		Short: "Print the parent/child edge list as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s.Links())
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <chat>",
		Short: "Write the conversation tree in its flat form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return encodeFlat(cmd.OutOrStdout(), format, s.Export())
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or yaml")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var format, title string
	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Store a flat conversation tree as a new conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			flat, err := decodeFlat(in, format)
			if err != nil {
				return err
			}
			s, err := session.Import(cmd.Context(), a.store, a.gen, flat, title)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or yaml")
	cmd.Flags().StringVar(&title, "title", "", "conversation title")
	return cmd
}

func newMainPathCmd(a *app) *cobra.Command {
	var jump bool
	cmd := &cobra.Command{
		Use:   "main-path <chat>",
		Short: "Show the deepest path of the tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jump {
				if _, err := s.GotoMainPath(cmd.Context()); err != nil {
					return err
				}
				return a.printPath(cmd, s)
			}
			path, err := s.MainPath()
			if err != nil {
				return err
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			out, err := r.Path(s.Title(), s.Tree(), path)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jump, "goto", false, "make the leaf of the deepest path current")
	return cmd
}

func encodeFlat(w io.Writer, format string, f tree.Flat) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(f)
	default:
		return errors.Errorf("unknown format %q", format)
	}
}

func decodeFlat(r io.Reader, format string) (tree.Flat, error) {
	var f tree.Flat
	var err error
	switch format {
	case "json":
		err = json.NewDecoder(r).Decode(&f)
	case "yaml":
		err = yaml.NewDecoder(r).Decode(&f)
	default:
		return f, errors.Errorf("unknown format %q", format)
	}
	return f, errors.Wrapf(err, "decode %s", format)
}
