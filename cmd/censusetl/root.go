package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/census-population-etl/internal/config"
	"github.com/couchcryptid/census-population-etl/internal/domain"
	"github.com/couchcryptid/census-population-etl/internal/integrity"
	"github.com/couchcryptid/census-population-etl/internal/observability"
	"github.com/couchcryptid/census-population-etl/internal/pipeline"
)

// env is the state shared by every subcommand, loaded once before it runs.
type env struct {
	cfg    *config.Config
	rules  *domain.Rules
	logger *slog.Logger
}

func rootCommand() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "censusetl",
		Short:         "Fetch, normalize, and persist ACS demographics per county or ZCTA",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
				if cfg.GeographyKind, err = domain.ParseKind(kind); err != nil {
					return err
				}
			}
			rules, err := config.LoadRules(cfg.RulesFile)
			if err != nil {
				return err
			}
			e.cfg, e.rules, e.logger = cfg, rules, observability.NewLogger(cfg)
			return nil
		},
	}
	root.PersistentFlags().String("kind", "", "geography kind, county or zcta (overrides GEOGRAPHY_KIND)")

	root.AddCommand(
		stateCommand(e),
		batchCommand(e),
		planCommand(e),
		recategorizeCommand(e),
		validateCommand(e),
	)
	return root
}

func stateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:     "state <fips|abbr>...",
		Short:   "Process every unit of the given states",
		Example: "  censusetl state NJ\n  censusetl --kind zcta state 34 23",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			states := make([]domain.State, 0, len(args))
			for _, key := range args {
				s, err := e.rules.LookupState(key)
				if err != nil {
					return err
				}
				states = append(states, s)
			}
			return runStates(cmd, e, func(o *pipeline.Orchestrator) (*pipeline.Report, error) {
				return o.Run(cmd.Context(), states), nil
			})
		},
	}
}

func batchCommand(e *env) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "batch <n>",
		Short: "Process batch n (1-indexed) of the alphabetical state partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("batch number %q: %w", args[0], err)
			}
			if size == 0 {
				size = e.cfg.StateBatchSize
			}
			plan, err := pipeline.NewBatchPlan(e.rules.States, size)
			if err != nil {
				return err
			}
			if _, err := plan.Batch(n); err != nil {
				return err
			}
			return runStates(cmd, e, func(o *pipeline.Orchestrator) (*pipeline.Report, error) {
				return o.RunBatch(cmd.Context(), n, size)
			})
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "states per batch (default STATE_BATCH_SIZE)")
	return cmd
}

func planCommand(e *env) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the state batch partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if size == 0 {
				size = e.cfg.StateBatchSize
			}
			plan, err := pipeline.NewBatchPlan(e.rules.States, size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, batch := range plan.Batches {
				abbrs := make([]string, len(batch))
				for j, s := range batch {
					abbrs[j] = s.Abbr
				}
				fmt.Fprintf(out, "batch %d: %s\n", i+1, strings.Join(abbrs, " "))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "states per batch (default STATE_BATCH_SIZE)")
	return cmd
}

func recategorizeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "recategorize [fips|abbr]...",
		Short: "Fold persisted ethnicity records into the canonical categories",
		Long: "Rewrites persisted population bundles so ethnicity is grouped into the\n" +
			"kept categories plus Other. Bundles already in that form are skipped,\n" +
			"so the command can be re-run at any time. No data is fetched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []domain.State
			for _, key := range args {
				s, err := e.rules.LookupState(key)
				if err != nil {
					return err
				}
				states = append(states, s)
			}
			st, err := openStore(e)
			if err != nil {
				return err
			}
			report, err := pipeline.Recategorize(cmd.Context(), st, e.rules, states, e.logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rewritten: %d, unchanged: %d, failed: %d\n",
				report.Rewritten, report.Unchanged, len(report.Failed))
			for _, f := range report.Failed {
				fmt.Fprintf(out, "  %s: %s\n", f.Unit, f.Error)
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d units could not be recategorized", len(report.Failed))
			}
			return nil
		},
	}
}

func validateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the persisted output tree for internal consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(e)
			if err != nil {
				return err
			}
			res, err := integrity.Check(st, e.rules)
			if err != nil {
				return err
			}
			printIntegrity(cmd, st.Root(), res)
			if !res.Passed() {
				return errors.New("validation failed")
			}
			return nil
		},
	}
}

func printIntegrity(cmd *cobra.Command, root string, res integrity.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Output Tree Validation: %s ===\n\n", root)
	for _, p := range res.Phases {
		status := "PASS"
		if !p.Passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.Errors))
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.Name, status)
	}
	fmt.Fprintf(out, "\nUnits: %d population, %d household, %d not recategorized\n",
		res.Units, res.Households, len(res.NonCanonical))

	for _, p := range res.Phases {
		if p.Passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.Name)
		for i, msg := range p.Errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, msg)
		}
	}
}
