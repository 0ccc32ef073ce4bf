// Command adhanbot runs the prayer-time notification bot and its
// maintenance commands.
//
// Usage:
//
//	adhanbot serve --config ./config.yaml
//	adhanbot plan --dry-run --day 2025-03-10
//	adhanbot sweep
//	adhanbot stats
//	adhanbot confirm 1741600000-1234
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"adhanbot/internal/app"
	"adhanbot/internal/planner"
	"adhanbot/internal/storage"
	"adhanbot/internal/subscription"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "adhanbot",
		Short:         "Syrian prayer-time notification bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")

	root.AddCommand(
		serveCmd(&cfgPath),
		planCmd(&cfgPath),
		sweepCmd(&cfgPath),
		statsCmd(&cfgPath),
		confirmCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			a, err := app.NewApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
				defer c()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return err
			}

			reason := app.StopAppStop
			select {
			case s := <-sigs:
				reason = app.StopSIGTERM
				if s == os.Interrupt {
					reason = app.StopSIGINT
				}
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}

			stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
			defer c()
			_ = a.Stop(stopCtx, reason)
			return a.Err()
		},
	}
}

// withOffline builds the app without a bot connection for fn.
func withOffline(cmd *cobra.Command, cfgPath string, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.NewApp(ctx, cfgPath, app.WithoutTelegram())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func planCmd(cfgPath *string) *cobra.Command {
	var (
		dryRun  bool
		day     string
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the prayer notifications a planning pass would register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !dryRun {
				return errors.New("live planning runs inside serve; use --dry-run")
			}
			return withOffline(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				d := time.Now().In(a.Scheduler().Location())
				if day != "" {
					t, err := time.ParseInLocation(storage.DateLayout, day, a.Scheduler().Location())
					if err != nil {
						return fmt.Errorf("--day: %w", err)
					}
					d = t
				}
				rep, err := a.PlanDay(ctx, d, true)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), rep)
				}
				printPlan(cmd.OutOrStdout(), rep, verbose)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "compute registrations without arming timers")
	cmd.Flags().StringVar(&day, "day", "", "calendar day YYYY-MM-DD (default today in the bot zone)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every registration")
	return cmd
}

func printPlan(w io.Writer, rep planner.Report, verbose bool) {
	fmt.Fprintf(w, "day %s: %d subscribers, %d to register, %d past, %d lookups failed, %d without location\n",
		rep.Day, rep.Subscribers, rep.Registered, rep.Past, rep.Failed, rep.NoLocation)
	if !verbose {
		return
	}
	for _, r := range rep.Registrations {
		fmt.Fprintf(w, "  %s  %-8s %-10s %s\n", r.At.Format("15:04"), r.Event, r.Location, r.JobID)
	}
	for id, msg := range rep.Failures {
		fmt.Fprintf(w, "  failed %d: %s\n", id, msg)
	}
}

func sweepCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire subscriptions due today or earlier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOffline(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				rep, err := a.Subscriptions().Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "day %s: %d expired %v\n", rep.Day, len(rep.Expired), rep.Expired)
				return nil
			})
		},
	}
}

func statsCmd(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print subscriber counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withOffline(cmd, *cfgPath, func(ctx context.Context, a *app.App) error {
				c, err := a.Subscriptions().Stats(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), c)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "total %d, active %d, expired %d, pending orders %d\n", c.Total, c.Active, c.Expired, c.Pending)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print counts as JSON")
	return cmd
}

func confirmCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <order>",
		Short: "Activate the subscription holding a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.NewApp(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := a.Confirm(ctx, args[0])
			var notice *subscription.NoticeError
			switch {
			case errors.As(err, &notice):
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: activated but the subscriber was not notified: %v\n", notice.Err)
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscriber %d active until %s\n", sub.ID, sub.ExpiryDate)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
