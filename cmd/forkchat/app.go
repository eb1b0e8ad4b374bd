package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/comigor/forkchat/internal/config"
	"github.com/comigor/forkchat/internal/history"
	"github.com/comigor/forkchat/internal/llm"
	"github.com/comigor/forkchat/internal/logger"
	"github.com/comigor/forkchat/internal/render"
	"github.com/comigor/forkchat/internal/session"
)

// app carries what every command needs. Tests fill store and gen directly;
// otherwise they come from the configuration on first use.
type app struct {
	configPath string
	logLevel   string
	plain      bool

	cfg   *config.Config
	store history.Store
	gen   llm.Generator
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "forkchat",
		Short:        "forkchat keeps chat conversations as trees you can branch and revisit",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.plain, "plain", false, "print markdown without terminal styling")

	root.AddCommand(
		newNewCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newSendCmd(a),
		newRegenerateCmd(a),
		newAppendCmd(a),
		newGotoCmd(a),
		newPathCmd(a),
		newBranchesCmd(a),
		newFlagCmd(a),
		newEditCmd(a),
		newCollapseCmd(a),
		newLinksCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newMainPathCmd(a),
		newProjectCmd(a),
	)
	return root
}

// execute runs the command line and releases the store afterwards, also when
// the command failed.
func execute(ctx context.Context, a *app, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	defer a.close()
	return root.ExecuteContext(ctx)
}

func (a *app) init(ctx context.Context) error {
	// stdout is for command output
	logger.Configure(os.Stderr, logger.FormatJSON)

	if a.store != nil {
		if a.logLevel != "" {
			logger.SetLevel(a.logLevel)
		}
		return nil
	}

	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFrom(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level := a.cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	logger.SetLevel(level)
	logger.Configure(os.Stderr, a.cfg.Log.Format)
	logger.L.Debug("configuration loaded", "driver", a.cfg.Storage.Driver, "model", a.cfg.LLM.Model)

	if a.store, err = history.Open(ctx, a.cfg.Storage); err != nil {
		return err
	}
	a.gen = llm.NewGenerator(llm.NewClient(a.cfg.LLM), a.cfg.LLM)
	return nil
}

func (a *app) close() {
	if a.cfg == nil || a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.L.Warn("failed to close store", "error", err)
	}
	a.store = nil
}

// open loads the conversation named by ref, a full id or a unique prefix.
func (a *app) open(ctx context.Context, ref string) (*session.Session, error) {
	id, err := a.resolveConversation(ctx, ref)
	if err != nil {
		return nil, err
	}
	return session.Open(ctx, a.store, a.gen, id)
}

func (a *app) resolveConversation(ctx context.Context, ref string) (string, error) {
	if _, err := a.store.Get(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, history.ErrNotFound) {
		return "", err
	}

	convs, err := a.store.List(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, c := range convs {
		if ref == "" || !strings.HasPrefix(c.ID, ref) {
			continue
		}
		if match != "" {
			return "", errors.Errorf("conversation prefix %q is ambiguous", ref)
		}
		match = c.ID
	}
	if match == "" {
		return "", errors.Wrapf(history.ErrNotFound, "conversation %q", ref)
	}
	return match, nil
}

func (a *app) renderer() (*render.Renderer, error) {
	return render.New(render.Options{Plain: a.plain})
}

// printPath writes the active path of s with branch indicators.
func (a *app) printPath(cmd *cobra.Command, s *session.Session) error {
	path, err := s.Path()
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
}
