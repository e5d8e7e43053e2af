package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/muesli/reflow/truncate"

	"schedadmin/internal/capture"
	"schedadmin/internal/config"
	"schedadmin/internal/ics"
	"schedadmin/internal/layout"
	appLog "schedadmin/internal/log"
	"schedadmin/internal/recurrence"
	"schedadmin/internal/store"
	"schedadmin/internal/web"
)

const refreshTimeout = 2 * time.Minute

func runServe(ctx context.Context, configPath string, conf *config.Config) error {
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a, err := newApp(conf)
	if err != nil {
		return err
	}

	refresher, err := store.NewRefresher(a.store, a.source, conf.RefreshCron, conf.Location(), refreshTimeout)
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"backend_url", conf.BackendURL,
		"calendar_type", conf.CalendarType,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"layout_mode", conf.LayoutMode,
		"ics_count", len(conf.ICS),
	)

	refresher.Start(ctx)
	appLog.Info("next scheduled refresh", "at", refresher.Next().Format(time.RFC3339))

	go func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			appLog.SetLevel(appLog.ParseLevel(next.LogLevel))
			appLog.SetFormat(next.LogFormat)
			appLog.Info("log settings applied; restart to apply listen, source and layout changes")
			if err := refresher.Trigger(ctx); err != nil {
				appLog.Error("refresh after config change failed", err)
			}
		})
		if err != nil {
			appLog.Error("config watch stopped", err)
		}
	}()

	opts := web.Options{
		Config:  conf,
		Store:   a.store,
		Refresh: refresher.Trigger,
	}
	if a.client != nil {
		opts.Remote = a.client
		opts.Conflicts = a.client
		opts.Classes = a.client
	}
	return web.NewServer(opts).Serve(ctx)
}

func runDay(ctx context.Context, conf *config.Config, args []string) error {
	fs := flag.NewFlagSet("day", flag.ContinueOnError)
	date := fs.String("date", "", "Day to lay out (YYYY-MM-DD, default today)")
	tz := fs.String("tz", conf.Timezone, "Viewer timezone")
	mode := fs.String("mode", conf.LayoutMode, "Layout mode: per-event or connected")
	asICS := fs.Bool("ics", false, "Print the day's classes as iCalendar instead of a table")
	width := fs.Uint("width", 40, "Maximum summary width in the table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", *tz, err)
	}
	day := time.Now().In(loc)
	if *date != "" {
		if day, err = time.ParseInLocation(time.DateOnly, *date, loc); err != nil {
			return fmt.Errorf("date %q: %w", *date, err)
		}
	}
	m, err := layout.ParseMode(*mode)
	if err != nil {
		return err
	}

	a, err := newApp(conf)
	if err != nil {
		return err
	}
	if err := a.store.Refresh(ctx, a.source); err != nil {
		return err
	}

	events := layout.FilterDay(a.store.Events(), day)
	if *asICS {
		_, err := io.WriteString(os.Stdout, ics.Export(events, "Classes "+day.Format(time.DateOnly), time.Now()))
		return err
	}

	positioned, err := layout.Engine{Mode: m}.Layout(day, events)
	if err != nil {
		return err
	}
	return printDay(os.Stdout, day, positioned, *width)
}

func printDay(w io.Writer, day time.Time, positioned []layout.Positioned, width uint) error {
	fmt.Fprintf(w, "%s (%s), %d classes\n\n", day.Format("Mon 2006-01-02"), day.Location(), len(positioned))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tCOL\tWIDTH\tCAL\tSUMMARY")
	for _, p := range positioned {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%.2f\t%s\t%s\n",
			clock(p.StartMinutes),
			clock(p.EndMinutes),
			p.Column+1, p.ClusterSize,
			p.WidthFraction,
			p.Event.CalendarSource,
			truncate.StringWithTail(p.Event.Summary, width, "…"),
		)
	}
	return tw.Flush()
}

func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func runRule(args []string) error {
	fs := flag.NewFlagSet("rule", flag.ContinueOnError)
	dtstart := fs.String("dtstart", "", "First occurrence (RFC3339) to preview dates from")
	count := fs.Int("count", 10, "Number of dates to preview")
	tz := fs.String("tz", "", "Timezone named in the description")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rule := recurrence.ParseRule(strings.Join(fs.Args(), ";"))
	out := os.Stdout
	fmt.Fprintf(out, "frequency:   %s\n", orDash(string(rule.Frequency)))
	fmt.Fprintf(out, "count:       %d\n", rule.Count)
	fmt.Fprintf(out, "byday:       %s\n", orDash(strings.Join(rule.ByDay, ",")))
	fmt.Fprintf(out, "bymonthday:  %s\n", orDash(strings.Trim(fmt.Sprint(rule.ByMonthDay), "[]")))
	fmt.Fprintf(out, "bymonth:     %s\n", orDash(strings.Trim(fmt.Sprint(rule.ByMonth), "[]")))
	fmt.Fprintf(out, "encoded:     %s\n", orDash(rule.String()))
	fmt.Fprintf(out, "description: %s\n", recurrence.Describe(rule, *tz))

	if *dtstart == "" {
		return nil
	}
	start, err := time.Parse(time.RFC3339, *dtstart)
	if err != nil {
		return fmt.Errorf("dtstart: %w", err)
	}
	dates, err := recurrence.Occurrences(rule, start, *count)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	for _, d := range dates {
		fmt.Fprintln(out, d.Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runSnapshot(ctx context.Context, conf *config.Config, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	base := fs.String("url", "http://"+conf.Listen, "Base URL of a running schedadmin server")
	date := fs.String("date", "", "Day to capture (YYYY-MM-DD, default today)")
	tz := fs.String("tz", "", "Viewer timezone")
	mode := fs.String("mode", "", "Layout mode")
	out := fs.String("out", "day.png", "Output PNG path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return capture.Snapshot(ctx, capture.Options{
		BaseURL:    *base,
		Date:       *date,
		Timezone:   *tz,
		Mode:       *mode,
		OutputPath: *out,
		Width:      conf.Snapshot.Width,
		Height:     conf.Snapshot.Height,
		Timeout:    config.Duration(conf.Snapshot.Timeout, capture.DefaultTimeout),
	})
}
