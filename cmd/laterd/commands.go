package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"laterd/internal/app"
	"laterd/internal/civil"
	"laterd/internal/runner"
	"laterd/internal/schedule"
)

const occurrenceLayout = "2006-01-02 15:04:05"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "laterd",
		Short:         "Run commands on cron, interval and one-shot schedules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./laterd.yaml", "path to config (json or yaml)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newCheckCmd(&cfgPath),
		newNextCmd(),
		newHistoryCmd(&cfgPath),
	)
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), *cfgPath)
		},
	}
}

func runDaemon(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	if err := a.Start(parent); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
		if parent.Err() != nil {
			reason = app.StopAppStop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	fatal := a.Err()
	if err := a.Stop(ctx, reason); err != nil {
		return err
	}
	return fatal
}

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and show the next occurrence of every job",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := app.Check(*cfgPath)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func printJobs(w io.Writer, snap runner.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSCHEDULE\tTZ\tNEXT")
	for _, j := range snap.Jobs {
		tz := j.Timezone
		if tz == "" {
			tz = "-"
		}
		next := "exhausted"
		if !j.Next.IsZero() {
			next = j.Next.Format(occurrenceLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.Name, j.Schedule, tz, next)
	}
	_ = tw.Flush()
}

func newNextCmd() *cobra.Command {
	var (
		tz    string
		count int
		from  string
		start string
		until string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "next <schedule>",
		Short: "Print upcoming occurrences of a schedule",
		Long: `Print upcoming occurrences of a schedule.

With --tz the schedule runs on that zone's wall clock and occurrences are
printed as wall-clock readings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printNext(cmd.OutOrStdout(), args[0], nextOptions{
				tz: tz, count: count, from: from, start: start, until: until, limit: limit,
			}, time.Now)
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default: platform time, UTC)")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of occurrences")
	cmd.Flags().StringVar(&from, "from", "", "reference time instead of now")
	cmd.Flags().StringVar(&start, "start", "", "schedule start bound")
	cmd.Flags().StringVar(&until, "until", "", "schedule end bound")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum occurrences counted from --start")
	return cmd
}

type nextOptions struct {
	tz    string
	count int
	from  string
	start string
	until string
	limit int
}

func printNext(w io.Writer, raw string, o nextOptions, now func() time.Time) error {
	src := civil.NewSource(civil.WithNow(now))
	var loc *time.Location
	if tz := strings.TrimSpace(o.tz); tz != "" {
		l, err := src.Location(tz)
		if err != nil {
			return err
		}
		loc = l
	}

	var opts []schedule.Option
	if o.start != "" {
		t, err := schedule.ParseInstant(o.start, loc)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		opts = append(opts, schedule.WithStart(t))
	}
	if o.until != "" {
		t, err := schedule.ParseInstant(o.until, loc)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		opts = append(opts, schedule.WithUntil(t))
	}
	if o.limit > 0 {
		opts = append(opts, schedule.WithLimit(o.limit))
	}
	sched, err := schedule.Compile(raw, opts...)
	if err != nil {
		return err
	}

	var ref time.Time
	switch {
	case o.from != "":
		ref, err = schedule.ParseInstant(o.from, loc)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	case loc != nil:
		c, err := src.CivilNow(o.tz)
		if err != nil {
			return err
		}
		ref = c.AsUTC()
	default:
		ref = now().UTC()
	}

	next := schedule.Preview(sched, o.count, ref)
	if len(next) == 0 {
		fmt.Fprintln(w, "no upcoming occurrences")
		return nil
	}
	for _, s := range next {
		fmt.Fprintln(w, s)
	}
	return nil
}

func newHistoryCmd(cfgPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <job>",
		Short: "Show recent fires of a job from the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := app.History(cmd.Context(), *cfgPath, args[0], limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OCCURRENCE\tSTARTED\tTOOK\tEXIT\tERROR")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\t%s\n",
					r.Occurrence.Format(occurrenceLayout), r.StartedAt.Format(time.RFC3339),
					r.TookMS, r.ExitCode, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "count", "n", 20, "number of records")
	return cmd
}
