package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/d60-Lab/wall/config"
	"github.com/d60-Lab/wall/internal/client"
	"github.com/d60-Lab/wall/internal/tui"
	"github.com/d60-Lab/wall/internal/wall"
	"github.com/d60-Lab/wall/pkg/logger"
)

const usage = `Usage:
  wall [flags]                          open the wall
  wall post -m TEXT [--photo PATH]      share one post and exit
  wall delete ID                        delete a post by id
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	sub := ""
	if len(args) > 0 && (args[0] == "post" || args[0] == "delete") {
		sub, args = args[0], args[1:]
	}

	flags := pflag.NewFlagSet("wall", pflag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	configFile := flags.StringP("config", "c", "", "config file")
	flags.String("server-url", "http://localhost:8080", "wall-server base URL")
	flags.String("author", wall.DefaultAuthor, "author name shown on posts")
	flags.String("log-level", "info", "log level")
	flags.String("log-file", "", "log file (the TUI never logs to the terminal)")
	message := flags.StringP("message", "m", "", "post text (post command)")
	photo := flags.String("photo", "", "photo to attach: JPG, PNG or GIF up to 5MB (post command)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		return err
	}
	if sub == "" {
		cfg.Log.OutputPaths = tuiLogPaths(cfg.Log.OutputPaths)
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(cfg.Client.ServerURL, client.WithLogger(logger.L().Named("client")))
	if err != nil {
		return err
	}
	feed := wall.NewFeed(c, c,
		wall.WithFeedLimit(cfg.Wall.FeedLimit),
		wall.WithLoadTimeout(cfg.Client.LoadTimeout),
		wall.WithFeedLogger(logger.L().Named("feed")))
	submitter := wall.NewSubmitter(c, c, feed,
		wall.WithAuthor(cfg.Client.Author),
		wall.WithBucket(cfg.Wall.Bucket),
		wall.WithSubmitTimeout(cfg.Client.SubmitTimeout),
		wall.WithRetainFailed(cfg.Client.RetainFailed),
		wall.WithLogger(logger.L().Named("submitter")))

	switch sub {
	case "post":
		return post(ctx, os.Stdout, os.Stderr, submitter, *message, *photo)
	case "delete":
		if flags.NArg() != 1 {
			return errors.New("usage: wall delete ID")
		}
		return deletePost(ctx, os.Stdout, c, flags.Arg(0))
	}

	loc, err := time.LoadLocation(cfg.Client.Timezone)
	if err != nil {
		return fmt.Errorf("client.timezone: %w", err)
	}

	stopFeed, err := feed.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopFeed(sctx); err != nil {
			logger.Warn("stop feed", zap.Error(err))
		}
	}()

	return tui.Run(ctx, feed, submitter, tui.Options{
		Profile: tui.Profile{
			Author:   cfg.Client.Author,
			Networks: cfg.Profile.Networks,
			Location: cfg.Profile.Location,
		},
		Location: loc,
		Logger:   logger.L().Named("tui"),
		MaxChars: cfg.Wall.MaxContentLength,
	})
}

// tuiLogPaths 终端被界面占用，日志改写到文件
func tuiLogPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "stdout" && p != "stderr" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, filepath.Join(os.TempDir(), "wall.log"))
	}
	return out
}
