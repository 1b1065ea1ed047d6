// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/codegen"
	"github.com/xkilldash9x/converge-cli/internal/config"
	"github.com/xkilldash9x/converge-cli/internal/controller"
	"github.com/xkilldash9x/converge-cli/internal/harness"
	"github.com/xkilldash9x/converge-cli/internal/judge"
	"github.com/xkilldash9x/converge-cli/internal/llmclient"
	"github.com/xkilldash9x/converge-cli/internal/observability"
	"github.com/xkilldash9x/converge-cli/internal/reporting"
	"github.com/xkilldash9x/converge-cli/internal/store"
	"github.com/xkilldash9x/converge-cli/internal/validator"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		targetURL      string
		variationsFile string
		goal           string
		name           string
		quick          bool
		outputDir      string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Test variations against a live page until they converge",
		Long: `Applies each variation's CSS/JS to the target page in a real browser,
validates it technically, judges the visual result, and iterates with
regenerated code until the variation is accepted or parked for review.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}

			variations, err := assembleVariations(variationsFile, goal, name)
			if err != nil {
				return err
			}
			if len(variations) == 0 {
				return fmt.Errorf("nothing to test: provide --variations or --goal")
			}

			// SIGINT finishes the current apply/QA round, then stops.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConvergence(ctx, cfg, targetURL, variations, quick, outputDir)
		},
	}

	runCmd.Flags().StringVar(&targetURL, "url", "", "URL of the page under test (required)")
	_ = runCmd.MarkFlagRequired("url")
	runCmd.Flags().StringVar(&variationsFile, "variations", "", "YAML/JSON file describing the variations to test")
	runCmd.Flags().StringVar(&goal, "goal", "", "Test a single ad-hoc variation described by this goal")
	runCmd.Flags().StringVar(&name, "name", "", "Name for the ad-hoc variation (used with --goal)")
	runCmd.Flags().BoolVar(&quick, "quick", false, "Use the reduced iteration budget")
	runCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for run reports (defaults to report.dir from config)")

	return runCmd
}

// variationSpec is the on-disk shape of one variation entry.
type variationSpec struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Goal string `mapstructure:"goal"`
	Code struct {
		CSS string `mapstructure:"css"`
		JS  string `mapstructure:"js"`
	} `mapstructure:"code"`
}

// assembleVariations merges the variations file and the ad-hoc --goal flag
// into the batch to test.
func assembleVariations(variationsFile, goal, name string) ([]*schemas.Variation, error) {
	var variations []*schemas.Variation

	if variationsFile != "" {
		loaded, err := loadVariationsFile(variationsFile)
		if err != nil {
			return nil, err
		}
		variations = append(variations, loaded...)
	}

	if goal != "" {
		if name == "" {
			name = "ad-hoc"
		}
		variations = append(variations, &schemas.Variation{
			ID:   uuid.New().String(),
			Name: name,
			Goal: goal,
		})
	}

	for i, v := range variations {
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		if v.Name == "" {
			v.Name = fmt.Sprintf("variation-%d", i+1)
		}
		if v.Goal == "" {
			return nil, fmt.Errorf("variation %q has no goal", v.Name)
		}
		v.TestStatus = schemas.TestStatusPending
	}
	return variations, nil
}

// loadVariationsFile reads a file with a top-level "variations" list.
func loadVariationsFile(path string) ([]*schemas.Variation, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read variations file %s: %w", path, err)
	}

	var specs []variationSpec
	if err := v.UnmarshalKey("variations", &specs); err != nil {
		return nil, fmt.Errorf("failed to parse variations file %s: %w", path, err)
	}

	variations := make([]*schemas.Variation, 0, len(specs))
	for _, spec := range specs {
		variations = append(variations, &schemas.Variation{
			ID:   spec.ID,
			Name: spec.Name,
			Goal: spec.Goal,
			Code: schemas.GeneratedCode{CSS: spec.Code.CSS, JS: spec.Code.JS},
		})
	}
	return variations, nil
}

// runConvergence wires the full engine and drives the batch.
func runConvergence(ctx context.Context, cfg *config.Config, targetURL string, variations []*schemas.Variation, quick bool, outputDir string) error {
	logger := observability.GetLogger()

	llm, err := llmclient.NewClient(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	defer func() {
		if err := llm.Close(); err != nil {
			logger.Warn("Failed to close LLM client cleanly.", zap.Error(err))
		}
	}()

	pageHarness, err := harness.New(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser harness: %w", err)
	}
	defer pageHarness.Close()

	runStore, storeCleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if storeCleanup != nil {
		defer storeCleanup()
	}

	engine := cfg.Engine
	maxIterations := engine.MaxIterations
	if quick {
		maxIterations = engine.QuickMaxIterations
	}

	ctrl, err := controller.New(logger, controller.RunConfig{
		MaxIterations:      maxIterations,
		VisualIterationCap: engine.VisualIterationCap,
		SettleDelay:        engine.SettleDelay,
		ResetTimeout:       engine.ResetTimeout,
		KeyPrefix:          engine.KeyPrefix,
		PreviewKeyPrefix:   engine.PreviewKeyPrefix,
	},
		pageHarness,
		validator.New(logger, pageHarness),
		codegen.NewService(logger, llm),
		judge.New(logger, llm),
		runStore,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize controller: %w", err)
	}

	if err := pageHarness.Navigate(ctx, targetURL); err != nil {
		return err
	}

	outcomes := ctrl.RunBatch(ctx, targetURL, variations)

	report := reporting.NewReport(targetURL, outcomes)
	if err := writeReports(cfg, report, outputDir, logger); err != nil {
		return err
	}

	logger.Info("Batch finished",
		zap.Int("total", report.Summary.Total),
		zap.Int("accepted", report.Summary.Accepted),
		zap.Int("needs_review", report.Summary.NeedsReview),
		zap.Int("aborted", report.Summary.Aborted),
	)
	if report.Summary.Aborted == report.Summary.Total {
		return fmt.Errorf("every variation run aborted; see report for details")
	}
	return nil
}

// openStore connects run-history persistence when a DSN is configured. The
// store is optional: an empty DSN returns a nil store and no error.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.RunStore, func(), error) {
	if cfg.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	runStore, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	cleanup := func() {
		runStore.Close()
		logger.Debug("Database connection pool closed.")
	}
	return runStore, cleanup, nil
}

// writeReports renders the report in every configured format. Formats are
// independent, so they are written concurrently.
func writeReports(cfg *config.Config, report *reporting.Report, outputDir string, logger *zap.Logger) error {
	dir := outputDir
	if dir == "" {
		dir = cfg.Report.Dir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	formats := cfg.Report.Formats
	if len(formats) == 0 {
		formats = []string{"json"}
	}

	var g errgroup.Group
	for _, format := range formats {
		g.Go(func() error {
			path := filepath.Join(dir, "report."+reportExtension(format))
			reporter, err := reporting.New(format, path)
			if err != nil {
				return err
			}
			defer func() {
				if err := reporter.Close(); err != nil {
					logger.Warn("Failed to close reporter cleanly.", zap.Error(err))
				}
			}()

			if err := reporter.Write(report); err != nil {
				return fmt.Errorf("failed to write %s report: %w", format, err)
			}
			logger.Info("Report written", zap.String("format", format), zap.String("path", path))
			return nil
		})
	}
	return g.Wait()
}

func reportExtension(format string) string {
	if format == "junit" {
		return "xml"
	}
	return format
}
