package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mikequentel/comicpost/internal/config"
	"github.com/mikequentel/comicpost/internal/download"
	"github.com/mikequentel/comicpost/internal/history"
	"github.com/mikequentel/comicpost/internal/httpx"
	"github.com/mikequentel/comicpost/internal/logging"
	"github.com/mikequentel/comicpost/internal/model"
	"github.com/mikequentel/comicpost/internal/pipeline"
	"github.com/mikequentel/comicpost/internal/vk"
	"github.com/mikequentel/comicpost/internal/xkcd"
	"github.com/mikequentel/comicpost/internal/xpost"
)

// app carries what every command needs.
type app struct {
	cfgPath string
	stdout  io.Writer
	stderr  io.Writer
}

func (a *app) load() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return cfg, nil, err
	}
	log, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}, a.stderr)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	var opts postOptions

	root := &cobra.Command{
		Use:           "comicpost",
		Short:         "Post a random xkcd comic to a VK community",
		Long:          "comicpost fetches a random xkcd comic, uploads its image to VK and publishes it with the alt text as caption.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.post(cmd, opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default $COMICPOST_CONFIG or ./comicpost.yaml)")
	opts.bind(root)

	root.AddCommand(newPostCmd(a))
	root.AddCommand(newShowCmd(a))
	root.AddCommand(newGroupsCmd(a))
	root.AddCommand(newHistoryCmd(a))
	root.AddCommand(newTokenCmd(a))
	return root
}

type postOptions struct {
	dryRun bool
	target string
}

func (o *postOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "fetch and download, but post nothing")
	cmd.Flags().StringVar(&o.target, "target", "", "publish target: wall|album (default from config)")
}

func newPostCmd(a *app) *cobra.Command {
	var opts postOptions
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Fetch a random comic and publish it (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.post(cmd, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (a *app) post(cmd *cobra.Command, opts postOptions) error {
	cfg, log, err := a.load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	if opts.target != "" {
		cfg.VK.Target = opts.target
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	hc := httpx.NewClient(cfg.HTTP.Timeout)
	primary := newPrimary(cfg, hc, log)

	runOpts := []pipeline.Option{
		pipeline.WithImages(cfg.Images.Dir, cfg.Images.ShouldOverwrite()),
		pipeline.WithCleanupOnFailure(cfg.Images.CleanupOnFailure),
		pipeline.WithDryRun(cfg.DryRun),
		pipeline.WithLogger(log),
	}
	if cfg.X.Enabled() {
		creds := xpost.Credentials{
			ConsumerKey:    cfg.X.ConsumerKey,
			ConsumerSecret: cfg.X.ConsumerSecret,
			AccessToken:    cfg.X.AccessToken,
			AccessSecret:   cfg.X.AccessSecret,
		}
		runOpts = append(runOpts, pipeline.WithMirrors(
			xpost.NewPublisher(xpost.NewOAuth1Client(hc, creds), xpost.WithLogger(log)),
		))
	}
	if cfg.History.Path != "" && !cfg.DryRun {
		j, err := history.Open(cmd.Context(), cfg.History.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		runOpts = append(runOpts, pipeline.WithJournal(j))
	}

	runner := pipeline.New(
		newComicSource(cfg, hc, log),
		download.New(hc, download.WithChunkSize(cfg.Images.ChunkSize), download.WithLogger(log)),
		primary,
		runOpts...,
	)
	rep, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}
	printReport(a.stdout, rep)
	return nil
}

func newComicSource(cfg config.Config, hc *http.Client, log logrus.FieldLogger) *xkcd.Client {
	return xkcd.NewClient(hc, cfg.Comic.BaseURL,
		xkcd.WithMaxDraws(cfg.Comic.MaxDraws),
		xkcd.WithLogger(log),
	)
}

func newVKClient(cfg config.Config, hc *http.Client, log logrus.FieldLogger) *vk.Client {
	return vk.NewClient(hc, cfg.VK.AccessToken,
		vk.WithBaseURL(cfg.VK.BaseURL),
		vk.WithAPIVersion(cfg.VK.APIVersion),
		vk.WithLogger(log),
	)
}

func newPrimary(cfg config.Config, hc *http.Client, log logrus.FieldLogger) pipeline.Publisher {
	c := newVKClient(cfg, hc, log)
	if cfg.VK.Target == config.TargetAlbum {
		return vk.NewAlbumPublisher(c, cfg.VK.GroupID, cfg.VK.AlbumID)
	}
	return vk.NewWallPublisher(c, cfg.VK.GroupID)
}

func printReport(w io.Writer, rep *pipeline.Report) {
	if rep.DryRun {
		fmt.Fprintf(w, "DRY RUN: would post xkcd #%d %q\n", rep.Comic.Num, rep.Comic.Title)
		fmt.Fprintf(w, "Image: %s\n", rep.ImagePath)
		fmt.Fprintf(w, "Message:\n---\n%s\n---\n", rep.Comic.Caption)
		return
	}
	fmt.Fprintf(w, "Posted xkcd #%d %q to %s: %s\n", rep.Comic.Num, rep.Comic.Title, rep.Primary.Target, rep.Primary.URL)
	for _, m := range rep.Mirrors {
		if m.Err != nil {
			fmt.Fprintf(w, "Mirror %s failed: %s\n", m.Target, diagnose(m.Err))
			continue
		}
		fmt.Fprintf(w, "Mirrored to %s: %s\n", m.Target, m.Result.URL)
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [num]",
		Short: "Print comic metadata (latest when num is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			src := newComicSource(cfg, httpx.NewClient(cfg.HTTP.Timeout), log)

			var comic *model.Comic
			if len(args) == 0 {
				comic, err = src.Latest(cmd.Context())
			} else {
				num, perr := strconv.Atoi(args[0])
				if perr != nil {
					return fmt.Errorf("comic number %q: %w", args[0], perr)
				}
				comic, err = src.Comic(cmd.Context(), num)
			}
			if err != nil {
				return err
			}
			printComic(a.stdout, comic)
			return nil
		},
	}
}

func printComic(w io.Writer, c *model.Comic) {
	fmt.Fprintf(w, "#%d %s", c.Num, c.Title)
	if !c.Date.IsZero() {
		fmt.Fprintf(w, " (%s)", c.Date.Format(time.DateOnly))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.ImageURL)
	fmt.Fprintln(w, c.Caption)
	fmt.Fprintln(w, c.Permalink())
	if c.News != "" {
		fmt.Fprintf(w, "News: %s\n", c.News)
	}
}

func newGroupsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the communities of the token's user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := a.load()
			if err != nil {
				return err
			}
			if cfg.VK.AccessToken == "" {
				return cfg.VK.MissingTokenError()
			}
			groups, err := newVKClient(cfg, httpx.NewClient(cfg.HTTP.Timeout), log).Groups(cmd.Context())
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Fprintln(a.stdout, "no communities")
				return nil
			}
			for _, g := range groups {
				fmt.Fprintf(a.stdout, "%d\t%s\t%s\n", g.ID, g.ScreenName, g.Name)
			}
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently published comics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := a.load()
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return fmt.Errorf("journal disabled: set history.path or %s", config.EnvHistoryDB)
			}
			j, err := history.Open(cmd.Context(), cfg.History.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "nothing posted yet")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(a.stdout, "%s\t#%d\t%s\t%s\t%s\n",
					e.PostedAt.Local().Format(time.DateTime), e.ComicNum, e.Title, e.Target, e.PostRef)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the VK access token in the OS keyring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Store the VK access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := config.Tokens.Set(args[0]); err != nil {
				return fmt.Errorf("store token: %w", err)
			}
			fmt.Fprintln(a.stdout, "token stored in keyring")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored VK access token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.Tokens.Delete(); err != nil {
				return fmt.Errorf("delete token: %w", err)
			}
			fmt.Fprintln(a.stdout, "token removed from keyring")
			return nil
		},
	})
	return cmd
}
