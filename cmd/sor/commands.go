package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mindworx/sor"
)

func createCmd() *cobra.Command {
	var (
		learnerID int64
		name      string
		email     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a statement request for a learner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			id, err := e.CreateRequest(ctx, learnerID, name, email)
			if err != nil {
				return err
			}

			fmt.Printf("created request %d\n", id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&learnerID, "learner-id", 0, "LMS user ID of the learner")
	cmd.Flags().StringVar(&name, "name", "", "learner's full display name")
	cmd.Flags().StringVar(&email, "email", "", "learner's email, empty skips the signature step")
	cmd.MarkFlagRequired("learner-id")
	cmd.MarkFlagRequired("name")

	return cmd
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [id]",
		Short: "Process one request, or sweep all pending requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return errors.Wrap(err, "invalid request id")
				}

				return e.ProcessRequest(ctx, id)
			}

			summary, err := e.RunPending(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("processed %d: %d succeeded, %d failed\n",
				summary.Processed, summary.Success, summary.Failed)
			printErrors(summary.Errors)
			return nil
		},
	}

	return cmd
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <id>",
		Short: "Submit a request's document to the grading target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrap(err, "invalid request id")
			}

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			err = e.Upload(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("request %d uploaded\n", id)
			return nil
		},
	}
}

func checkSignaturesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-signatures",
		Short: "Poll all outstanding signature requests once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			summary, err := e.RunSignatureCheck(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("checked %d: %d completed, %d uploaded, %d still pending\n",
				summary.Checked, summary.Completed, summary.Uploaded, summary.Pending)
			printErrors(summary.Errors)
			return nil
		},
	}
}

func syncGradesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-grades",
		Short: "Push grades for all uploaded requests to the LMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			summary, err := e.RunBulkGradeSync(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("synced %d of %d grades, %d failed\n",
				summary.Synced, summary.Total, summary.Failed)
			printErrors(summary.Errors)
			return nil
		},
	}
}

func recalcScoresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recalc-scores",
		Short: "Recompute every request's overall score from fresh results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			summary, err := e.RunScoreRecalc(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("recalculated %d requests: %d updated, %d unchanged or skipped\n",
				summary.Total, summary.Updated, summary.Skipped)
			printErrors(summary.Errors)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			stats, err := e.Store().Stats(ctx, e.Config().OverdueThreshold)
			if err != nil {
				return err
			}

			fmt.Printf("total           %d\n", stats.Total)
			fmt.Printf("pending         %d\n", stats.Pending)
			fmt.Printf("pdf_generated   %d\n", stats.PDFGenerated)
			fmt.Printf("signature_sent  %d\n", stats.SignatureSent)
			fmt.Printf("signed          %d\n", stats.Signed)
			fmt.Printf("uploaded        %d\n", stats.Uploaded)
			fmt.Printf("failed          %d\n", stats.Failed)
			fmt.Printf("overdue         %d\n", stats.Overdue)
			fmt.Printf("recent (24h)    %d\n", stats.Recent)
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit <id>",
		Short: "Show a request's audit trail, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrap(err, "invalid request id")
			}

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			entries, err := e.Store().ListAudit(ctx, id, limit)
			if err != nil {
				return err
			}

			for _, entry := range entries {
				fmt.Printf("%s  %-22s %-8s %s\n",
					entry.CreatedAt.Format("2006-01-02 15:04:05"),
					entry.Action, entry.Outcome, entry.Detail)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")

	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Reset a failed request back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrap(err, "invalid request id")
			}

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			err = e.Reset(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("request %d reset to pending\n", id)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduled sweeps until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			e, err := newEngine(ctx)
			if err != nil {
				return err
			}

			s := sor.NewScheduler(e)
			for _, schedule := range []struct {
				add  func(spec string) error
				spec string
			}{
				{s.SchedulePending, viper.GetString("schedules.pending")},
				{s.ScheduleSignatureCheck, viper.GetString("schedules.signature_check")},
				{s.ScheduleGradeSync, viper.GetString("schedules.grade_sync")},
			} {
				err := schedule.add(schedule.spec)
				if err != nil {
					return err
				}
			}

			if addr := viper.GetString("metrics.addr"); addr != "" {
				go serveMetrics(ctx, addr)
			}

			log.Info(ctx, "sor scheduler running")
			s.Run(ctx)
			return nil
		},
	}
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		// NoReturnErr: metrics are best effort; the sweeps keep running.
		log.Error(ctx, errors.Wrap(err, "metrics server"))
	}
}

func printErrors(errs []string) {
	for _, e := range errs {
		fmt.Printf("  error: %s\n", e)
	}
}
