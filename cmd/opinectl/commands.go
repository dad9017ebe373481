package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/opine/internal/app"
	"github.com/soaringjerry/opine/internal/config"
	"github.com/soaringjerry/opine/internal/services"
)

type cliOptions struct {
	configPath  string
	dryRun      bool
	pageSize    int
	concurrency int
	rate        float64
}

func (o *cliOptions) batch() services.BatchOptions {
	return services.BatchOptions{DryRun: o.dryRun, PageSize: o.pageSize, Concurrency: o.concurrency, RatePerSecond: o.rate}
}

type jobFunc func(ctx context.Context, a *app.App, opts services.BatchOptions) (*services.RunReport, error)

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:          "opinectl",
		Short:        "Run response QC maintenance jobs",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to YAML config (default $OPINE_CONFIG)")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "report what would change without writing")
	pf.IntVar(&opts.pageSize, "page-size", 0, "records per page (default from config)")
	pf.IntVar(&opts.concurrency, "concurrency", 0, "records processed in parallel (default from config)")
	pf.Float64Var(&opts.rate, "rate", 0, "maximum records per second (default from config)")

	run := func(job jobFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd, opts, job)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Reject pending responses that duplicate an earlier response's content",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, o services.BatchOptions) (*services.RunReport, error) {
			return a.Maintenance.DedupSweep(ctx, o)
		}),
	})

	var phoneSurvey string
	phones := &cobra.Command{
		Use:   "sweep-phones",
		Short: "Reject pending responses that repeat a respondent phone number within a survey",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, o services.BatchOptions) (*services.RunReport, error) {
			return a.Maintenance.PhoneSweep(ctx, phoneSurvey, o)
		}),
	}
	phones.Flags().StringVar(&phoneSurvey, "survey", "", "survey id")
	_ = phones.MarkFlagRequired("survey")
	root.AddCommand(phones)

	var evalSurvey string
	reevaluate := &cobra.Command{
		Use:   "reevaluate",
		Short: "Run the auto-rejection rules over pending responses",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, o services.BatchOptions) (*services.RunReport, error) {
			return a.Maintenance.Reevaluate(ctx, evalSurvey, o)
		}),
	}
	reevaluate.Flags().StringVar(&evalSurvey, "survey", "", "limit to one survey")
	root.AddCommand(reevaluate)

	root.AddCommand(&cobra.Command{
		Use:   "repair",
		Short: "Move responses with a recorded abandon reason back to abandoned",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, o services.BatchOptions) (*services.RunReport, error) {
			return a.Maintenance.RepairInvariants(ctx, o)
		}),
	})

	var file, actorName string
	rejectIDs := &cobra.Command{
		Use:   "reject-ids",
		Short: "Reject the responses listed in a JSON file of {responseId, reason}",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app.App, o services.BatchOptions) (*services.RunReport, error) {
			items, err := readRejectList(file)
			if err != nil {
				return nil, err
			}
			return a.Maintenance.BulkReject(ctx, items, actorName, o)
		}),
	}
	rejectIDs.Flags().StringVar(&file, "file", "", "JSON file with [{\"responseId\": ..., \"reason\": ...}]")
	rejectIDs.Flags().StringVar(&actorName, "actor", "opinectl", "name recorded in the audit log")
	_ = rejectIDs.MarkFlagRequired("file")
	root.AddCommand(rejectIDs)

	return root
}

func runJob(cmd *cobra.Command, opts *cliOptions, job jobFunc) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := job(cmd.Context(), a, opts.batch())
	if report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	}
	return err
}

func readRejectList(path string) ([]services.BulkRejectItem, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var items []services.BulkRejectItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s lists no responses", path)
	}
	return items, nil
}
