// File: cmd/run.go
package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plancheck/api/schemas"
	"github.com/xkilldash9x/plancheck/internal/config"
	"github.com/xkilldash9x/plancheck/internal/engine"
	"github.com/xkilldash9x/plancheck/internal/observability"
	"github.com/xkilldash9x/plancheck/internal/plan"
	"github.com/xkilldash9x/plancheck/internal/reporting"
)

// ErrRunsFailed is returned when at least one plan did not pass.
var ErrRunsFailed = errors.New("one or more test runs failed")

func newRunCmd(a *app) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <plan.yaml>...",
		Short: "Run one or more test plans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}

			plans, err := plan.NewLoader(a.fs).LoadAll(args)
			if err != nil {
				return err
			}

			components, err := a.factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			logger.Info("Running test plans.", zap.Int("plans", len(plans)), zap.String("provider", cfg.Run().Provider))
			results, runErr := components.Engine.RunAll(ctx, plans)

			if err := writeReports(a, cfg, results); err != nil {
				logger.Error("Failed to write reports.", zap.Error(err))
			}
			printSummary(cmd, results)

			if runErr != nil {
				return runErr
			}
			if !engine.Summarize(results).OK() {
				return ErrRunsFailed
			}
			return nil
		},
	}

	f := runCmd.Flags()
	f.String("environment-id", "", "Environment the application under test lives in")
	f.String("tenant-id", "", "Tenant of the environment")
	f.String("domain", "", "Domain that hosts the application under test")
	f.String("output-directory", "", "Directory for reports and run artifacts (overrides config)")
	f.String("provider", "", "Provider that adapts the application (overrides config)")
	f.String("user-auth", "", "User manager used to log in (default: highest priority)")
	f.Bool("headed", false, "Show the browser window")
	f.IntP("concurrency", "j", 0, "Number of plans run at once (overrides config)")
	return runCmd
}

// applyRunFlags copies explicitly set flags onto cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	run := cfg.Run()
	envID, tenantID, domain := run.EnvironmentID, run.TenantID, run.Domain
	if f.Changed("environment-id") {
		envID, _ = f.GetString("environment-id")
	}
	if f.Changed("tenant-id") {
		tenantID, _ = f.GetString("tenant-id")
	}
	if f.Changed("domain") {
		domain, _ = f.GetString("domain")
	}
	cfg.SetRunTarget(envID, tenantID, domain)

	if f.Changed("output-directory") {
		dir, _ := f.GetString("output-directory")
		cfg.SetRunOutputDirectory(dir)
	}
	if f.Changed("provider") {
		p, _ := f.GetString("provider")
		cfg.SetRunProvider(p)
	}
	if f.Changed("user-auth") {
		u, _ := f.GetString("user-auth")
		cfg.SetRunUserAuth(u)
	}
	if f.Changed("headed") {
		headed, _ := f.GetBool("headed")
		cfg.SetBrowserHeadless(!headed)
	}
	if f.Changed("concurrency") {
		n, _ := f.GetInt("concurrency")
		if n <= 0 {
			return fmt.Errorf("--concurrency must be positive, got %d", n)
		}
		cfg.EngineCfg.Concurrency = n
	}
	if cfg.Run().Provider == "" {
		return errors.New("no provider configured; set --provider or run.provider")
	}
	return nil
}

func writeReports(a *app, cfg config.Interface, results []*schemas.TestRunResult) error {
	var reporters []reporting.Reporter
	for _, format := range cfg.Report().Formats {
		path := filepath.Join(cfg.Run().OutputDirectory, reporting.DefaultFileName(format))
		r, err := reporting.New(a.fs, format, path)
		if err != nil {
			return err
		}
		reporters = append(reporters, r)
	}
	return reporting.WriteAll(results, reporters...)
}

func printSummary(cmd *cobra.Command, results []*schemas.TestRunResult) {
	out := cmd.OutOrStdout()
	for _, r := range results {
		if r == nil {
			continue
		}
		status := "PASS"
		detail := ""
		if !r.Passed {
			status = "FAIL"
			detail = fmt.Sprintf(" [%s] %s", r.FailedStage, r.FailureMessage)
			if r.ErrorDialogTitle != "" {
				detail += fmt.Sprintf(" (dialog: %q)", r.ErrorDialogTitle)
			}
		}
		fmt.Fprintf(out, "%s %s (%s) %s%s\n", status, r.PlanName, r.Persona, r.Duration().Round(time.Millisecond), detail)
	}
	s := engine.Summarize(results)
	fmt.Fprintf(out, "\n%d run(s): %d passed, %d failed\n", s.Total, s.Passed, s.Failed)
}
