package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	log "github.com/sirupsen/logrus"

	"model-uploader/internal/adapters/primary/http/dto"
	"model-uploader/internal/adapters/secondary/eventlog"
	"model-uploader/internal/bootstrap"
	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

// filterFlags accepts the same criteria as the manifests endpoint.
type filterFlags struct {
	query     dto.ManifestQuery
	unlimited bool
}

func (ff *filterFlags) register(f *flag.FlagSet, withLimit bool) {
	f.StringVar(&ff.query.Since, "since", "", "only records started at or after this time (RFC3339 or YYYY-MM-DD)")
	f.StringVar(&ff.query.Until, "until", "", "only records started before this time")
	f.StringVar(&ff.query.Status, "status", "", "success, partial_success, failed or cancelled")
	f.StringVar(&ff.query.Mode, "mode", "", "dataset or external_model")
	f.StringVar(&ff.query.Workspace, "workspace", "", "only this workspace")
	f.StringVar(&ff.query.Project, "project", "", "only this project")
	if withLimit {
		f.IntVar(&ff.query.Limit, "limit", 0, "return at most this many records")
	} else {
		ff.unlimited = true
	}
}

func (ff *filterFlags) filter() (ports.ManifestFilter, error) {
	if ff.query.Limit < 0 {
		return ports.ManifestFilter{}, usageError("-limit must not be negative")
	}
	filter, err := ff.query.Filter()
	if err != nil {
		return filter, usageError("%v", err)
	}
	if ff.unlimited {
		filter.Limit = 0
	}
	return filter, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func reportSkipped(skipped int, sources ...string) {
	for _, s := range sources {
		log.WithField("source", s).Warn("skipped unreadable record")
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "%d unreadable record(s) skipped\n", skipped)
	}
}

// ============================================================================
// history
// ============================================================================

type historyCmd struct {
	filters filterFlags
	out     outputFlag
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list recorded operations, newest first" }
func (*historyCmd) Usage() string {
	return "history [-since t] [-until t] [-status s] [-mode m] [-workspace ws] [-project p] [-limit n] [-o format]\n"
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	c.filters.register(f, true)
	c.out.register(f)
}

func (c *historyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	filter, err := c.filters.filter()
	if err != nil {
		return exitStatus(err)
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	return run(ctx, func(app *bootstrap.App) error {
		page, err := app.History.List(ctx, filter)
		if err != nil {
			return err
		}
		sources := make([]string, 0, len(page.Skipped))
		for _, s := range page.Skipped {
			sources = append(sources, s.Source)
		}
		defer reportSkipped(len(page.Skipped), sources...)

		return p.print(dto.ToListManifestsResponse(page), func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "OP_ID\tSTATUS\tMODE\tTARGET\tVERSION\tSTARTED")
			for _, m := range page.Records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\t%s\n",
					m.OpID, m.Status, m.Mode, m.Workspace, m.Project, orDash(m.TargetVersion), formatTime(m.StartedAt))
			}
		})
	})
}

// ============================================================================
// show
// ============================================================================

type showCmd struct {
	out outputFlag
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "print one manifest" }
func (*showCmd) Usage() string {
	return "show [-o format] <op_id>\n"
}
func (c *showCmd) SetFlags(f *flag.FlagSet) { c.out.register(f) }

func (c *showCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	if p.format == formatTable {
		// a manifest does not fit in a table
		p.format = formatYAML
	}
	return run(ctx, func(app *bootstrap.App) error {
		m, err := app.History.Get(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		return p.print(m, nil)
	})
}

// ============================================================================
// stats
// ============================================================================

type statsCmd struct {
	filters filterFlags
	out     outputFlag
}

func (*statsCmd) Name() string     { return "stats" }
func (*statsCmd) Synopsis() string { return "aggregate recorded operations" }
func (*statsCmd) Usage() string {
	return "stats [-since t] [-until t] [-status s] [-mode m] [-workspace ws] [-project p] [-o format]\n"
}

func (c *statsCmd) SetFlags(f *flag.FlagSet) {
	c.filters.register(f, false)
	c.out.register(f)
}

func (c *statsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	filter, err := c.filters.filter()
	if err != nil {
		return exitStatus(err)
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	return run(ctx, func(app *bootstrap.App) error {
		stats, err := app.History.Stats(ctx, filter)
		if err != nil {
			return err
		}
		defer reportSkipped(stats.Skipped)

		return p.print(stats, func(tw *tabwriter.Writer) {
			fmt.Fprintf(tw, "total\t%d\n", stats.Total)
			fmt.Fprintf(tw, "success rate\t%.1f%%\n", stats.SuccessRate*100)
			fmt.Fprintf(tw, "bytes uploaded\t%d\n", stats.TotalBytes)
			if stats.First != nil && stats.Last != nil {
				fmt.Fprintf(tw, "period\t%s .. %s\n", formatTime(*stats.First), formatTime(*stats.Last))
			}
			writeCounts(tw, "status", stats.ByStatus)
			writeCounts(tw, "mode", stats.ByMode)
			writeCounts(tw, "family", stats.ByFamily)
			writeCounts(tw, "error", stats.ByErrorKind)
		})
	})
}

func writeCounts[K ~string](tw *tabwriter.Writer, label string, counts map[K]int) {
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(tw, "%s %s\t%d\n", label, orDash(string(k)), counts[k])
	}
}

// ============================================================================
// events
// ============================================================================

type eventsCmd struct {
	count bool
	event string
	out   outputFlag
}

func (*eventsCmd) Name() string     { return "events" }
func (*eventsCmd) Synopsis() string { return "read the structured event log" }
func (*eventsCmd) Usage() string {
	return "events [-count] [-event name] [-o format]\n"
}

func (c *eventsCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.count, "count", false, "print the number of events per name")
	f.StringVar(&c.event, "event", "", "only events with this name")
	c.out.register(f)
}

func (c *eventsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return exitStatus(err)
	}
	events := eventlog.ReadFile(cfg.EventsFile())

	if c.count {
		counts, err := eventlog.Count(events)
		if err != nil {
			return exitStatus(err)
		}
		return exitStatus(p.print(counts, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "EVENT\tCOUNT")
			for _, name := range slices.Sorted(maps.Keys(counts)) {
				fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
			}
		}))
	}

	var selected []eventlog.Event
	for ev, err := range events {
		if err != nil {
			return exitStatus(err)
		}
		if c.event == "" || ev.Name == c.event {
			selected = append(selected, ev)
		}
	}
	return exitStatus(p.print(selected, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "TIME\tLEVEL\tEVENT\tOP_ID")
		for _, ev := range selected {
			opID, _ := ev.Fields["op_id"].(string)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTime(ev.TS), ev.Level, ev.Name, orDash(opID))
		}
	}))
}

// ============================================================================
// watch
// ============================================================================

type watchCmd struct {
	filters filterFlags
	out     outputFlag
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "follow manifests as they are written" }
func (*watchCmd) Usage() string {
	return "watch [-status s] [-mode m] [-workspace ws] [-project p] [-o format]\n"
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	c.filters.register(f, false)
	c.out.register(f)
}

func (c *watchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	filter, err := c.filters.filter()
	if err != nil {
		return exitStatus(err)
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	return run(ctx, func(app *bootstrap.App) error {
		records, err := app.History.Watch(ctx, filter)
		if err != nil {
			return err
		}
		for m := range records {
			if err := printWatched(p, m); err != nil {
				return err
			}
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	})
}

func printWatched(p printer, m *domain.Manifest) error {
	if p.format == formatTable {
		_, err := fmt.Fprintf(p.w, "%s  %-15s  %-14s  %s/%s  %s\n",
			formatTime(m.EndedAt), m.Status, m.Mode, m.Workspace, m.Project, m.OpID)
		return err
	}
	if p.format == formatJSON {
		// one document per line so the stream can be piped
		return json.NewEncoder(p.w).Encode(m)
	}
	if _, err := fmt.Fprintln(p.w, "---"); err != nil {
		return err
	}
	return p.print(m, nil)
}
