package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"schedadmin/internal/api"
	"schedadmin/internal/config"
	"schedadmin/internal/conflict"
	"schedadmin/internal/ics"
	appLog "schedadmin/internal/log"
	"schedadmin/internal/store"
)

const usage = `usage: schedadmin [-config path] <command> [flags]

commands:
  serve      run the HTTP server with scheduled refresh (default)
  day        print the layout of one day
  rule       decode an RRULE and preview its dates
  snapshot   capture the day view of a running server as PNG
`

func main() {
	configPath := flag.String("config", "/etc/schedadmin/config.yaml", "Path to config file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		appLog.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		appLog.Error("failed to set GOMAXPROCS", err)
	}

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	// rule needs no configuration.
	if cmd == "rule" {
		exit(runRule(args))
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", *configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetFormat(conf.LogFormat)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	switch cmd {
	case "serve":
		err = runServe(ctx, *configPath, conf)
	case "day":
		err = runDay(ctx, conf, args)
	case "snapshot":
		err = runSnapshot(ctx, conf, args)
	default:
		flag.Usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}
	cancel()
	exit(err)
}

func exit(err error) {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	appLog.Error("schedadmin failed", err)
	os.Exit(1)
}

// app holds the components shared by the commands.
type app struct {
	client *api.Client
	store  *store.Store
	source store.Source
}

func newApp(conf *config.Config) (*app, error) {
	a := &app{store: store.New()}

	var sources store.MultiSource
	if conf.BackendURL != "" {
		a.client = api.New(conf.BackendURL)
		a.client.Timeout = config.Duration(conf.RequestTimeout, api.DefaultTimeout)
		a.client.ConflictTimeout = config.Duration(conf.ConflictTimeout, api.DefaultConflictTimeout)
		a.client.ConflictRetryTimeout = config.Duration(conf.ConflictRetryTimeout, api.DefaultConflictRetryTimeout)
		a.client.Fallback = func(_ context.Context, req conflict.Request) (conflict.Result, error) {
			return conflict.Check(a.store.Events(), req), nil
		}
		sources = append(sources, store.ClassesSource{API: a.client, CalendarType: conf.CalendarType})
	}

	if len(conf.ICS) > 0 {
		feeds := make([]ics.Feed, 0, len(conf.ICS))
		for _, c := range conf.ICS {
			if c.URL == "" {
				continue
			}
			feeds = append(feeds, ics.Feed{ID: c.ID, URL: c.URL, Calendar: c.Calendar})
		}
		sources = append(sources, store.FeedSource{
			Fetcher:  ics.NewFetcher(conf.CacheDir, config.Duration(conf.RequestTimeout, api.DefaultTimeout)),
			Feeds:    feeds,
			Backfill: time.Duration(conf.BackfillDays) * 24 * time.Hour,
			Horizon:  time.Duration(conf.HorizonDays) * 24 * time.Hour,
		})
	}

	if len(sources) == 0 {
		return nil, errors.New("no class source configured: set backend_url or ics")
	}
	a.source = sources
	return a, nil
}
