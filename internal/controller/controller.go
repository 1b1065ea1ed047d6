// internal/controller/controller.go
// The convergence engine: applies a generated variation to the page under
// test, validates it technically, judges it visually, and decides per
// iteration whether to accept, regenerate with feedback, or stop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/feedback"
	"github.com/xkilldash9x/converge-cli/internal/validator"
)

// ErrNoCode marks a generation round that produced nothing to test. The run
// aborts instead of looping on empty feedback.
var ErrNoCode = errors.New("generator returned no code")

// TechnicalValidator is the static/dynamic code check boundary.
type TechnicalValidator interface {
	Validate(ctx context.Context, code schemas.GeneratedCode) (schemas.ValidationReport, error)
}

// RunConfig bounds one convergence run. MaxIterations caps the whole loop,
// technical retries included. VisualIterationCap additionally bounds the
// visual-defect branch: visual iterations are costlier and noisier than
// technical retries, so they get the tighter, independently configured valve.
type RunConfig struct {
	MaxIterations      int
	VisualIterationCap int
	SettleDelay        time.Duration
	ResetTimeout       time.Duration
	KeyPrefix          string
	PreviewKeyPrefix   string
}

// iterationState is process-local and lives for exactly one convergence run.
type iterationState struct {
	iteration       int
	maxIterations   int
	previousDefects []schemas.Defect
	startTime       time.Time
}

// Controller owns the per-variation convergence loop. It is the sole writer
// on the shared tab while a run is active; variations in a batch are tested
// strictly sequentially.
type Controller struct {
	logger    *zap.Logger
	cfg       RunConfig
	harness   schemas.PageHarness
	validator TechnicalValidator
	generator schemas.CodeGenerator
	judge     schemas.VisualJudge
	store     schemas.RunStore // optional; nil disables persistence

	// sleep is swappable so tests do not wait out settle delays.
	sleep func(ctx context.Context, d time.Duration)
}

// New wires the controller. store may be nil.
func New(
	logger *zap.Logger,
	cfg RunConfig,
	pageHarness schemas.PageHarness,
	technicalValidator TechnicalValidator,
	generator schemas.CodeGenerator,
	visualJudge schemas.VisualJudge,
	store schemas.RunStore,
) (*Controller, error) {
	if pageHarness == nil || technicalValidator == nil || generator == nil || visualJudge == nil {
		return nil, fmt.Errorf("cannot initialize controller with nil dependencies")
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1, got %d", cfg.MaxIterations)
	}
	if cfg.VisualIterationCap < 1 {
		return nil, fmt.Errorf("visual iteration cap must be at least 1, got %d", cfg.VisualIterationCap)
	}

	return &Controller{
		logger:    logger.Named("controller"),
		cfg:       cfg,
		harness:   pageHarness,
		validator: technicalValidator,
		generator: generator,
		judge:     visualJudge,
		store:     store,
		sleep:     sleepCtx,
	}, nil
}

// RunBatch runs each variation to convergence, one after another. The shared
// tab makes concurrent testing impossible: parallel injection would corrupt
// the DOM under test.
func (c *Controller) RunBatch(ctx context.Context, targetURL string, variations []*schemas.Variation) []schemas.RunOutcome {
	outcomes := make([]schemas.RunOutcome, 0, len(variations))
	for _, variation := range variations {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, schemas.RunOutcome{
				VariationID: variation.ID,
				Name:        variation.Name,
				State:       schemas.RunAborted,
				Reason:      "run canceled before testing started",
			})
			continue
		}
		outcome := c.RunToConvergence(ctx, variation)
		c.persistRun(targetURL, variation, outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// RunToConvergence drives one variation through the test-and-refine loop
// until it is accepted, parked for human review, or aborted.
//
// Cancellation is cooperative: ctx is polled at iteration boundaries only. A
// cancel issued mid-apply takes effect after the current apply/probe/QA round,
// never in the middle of one, so the tab is never left half-applied.
func (c *Controller) RunToConvergence(ctx context.Context, variation *schemas.Variation) schemas.RunOutcome {
	state := &iterationState{
		maxIterations: c.cfg.MaxIterations,
		startTime:     time.Now(),
	}
	log := c.logger.With(zap.String("variation_id", variation.ID), zap.String("name", variation.Name))
	log.Info("Starting convergence run", zap.Int("max_iterations", state.maxIterations))

	variation.TestStatus = schemas.TestStatusTesting

	// In-iteration work runs detached from the caller's cancellation; the
	// individual harness and model calls carry their own timeouts.
	runCtx := context.WithoutCancel(ctx)

	// An empty variation first needs code at all.
	if variation.Code.IsEmpty() {
		if outcome := c.generateInitialCode(runCtx, variation, log); outcome != nil {
			return c.finish(variation, state, *outcome, log)
		}
	}

	// The "before" screenshot is the QA baseline for every iteration of this
	// run; capture it once, against the clean page.
	c.resetInjected(runCtx, log)
	before, err := c.harness.CaptureScreenshot(runCtx)
	if err != nil {
		log.Warn("Baseline screenshot unavailable; visual QA will be skipped.", zap.Error(err))
		before = nil
	}

	for state.iteration < state.maxIterations {
		if err := ctx.Err(); err != nil {
			return c.finish(variation, state, schemas.RunOutcome{
				State:  schemas.RunAborted,
				Reason: "run canceled",
			}, log)
		}
		state.iteration++
		iterLog := log.With(zap.Int("iteration", state.iteration))

		testResult, outcome := c.applyAndProbe(runCtx, variation, iterLog)
		if outcome != nil {
			return c.finish(variation, state, *outcome, log)
		}

		if len(testResult.Errors) > 0 {
			outcome = c.handleTechnicalFailure(runCtx, variation, state, testResult, iterLog)
			if outcome != nil {
				return c.finish(variation, state, *outcome, log)
			}
			continue // Regenerated; skip visual QA this pass.
		}

		qaResult, outcome := c.runVisualQA(runCtx, variation, state, before, iterLog)
		if outcome != nil {
			return c.finish(variation, state, *outcome, log)
		}

		if qaResult.Status == schemas.QAStatusPass {
			return c.finish(variation, state, schemas.RunOutcome{State: schemas.RunAccepted}, log)
		}

		if !c.shouldContinueIteration(qaResult, state) {
			return c.finish(variation, state, schemas.RunOutcome{
				State:   schemas.RunNeedsReview,
				Defects: qaResult.Defects,
				Reason:  "visual QA did not converge",
			}, log)
		}

		fb, actionable := feedback.FromVisualDefects(*qaResult, "")
		if !actionable {
			return c.finish(variation, state, schemas.RunOutcome{
				State:   schemas.RunNeedsReview,
				Defects: qaResult.Defects,
				Reason:  "visual QA reported no actionable defects",
			}, log)
		}

		if err := c.regenerate(runCtx, variation, fb, iterLog); err != nil {
			return c.finish(variation, state, schemas.RunOutcome{
				State:  schemas.RunAborted,
				Reason: fmt.Sprintf("regeneration failed: %v", err),
			}, log)
		}
		state.previousDefects = qaResult.Defects
	}

	// Running out of budget is an expected outcome, not a failure.
	return c.finish(variation, state, schemas.RunOutcome{
		State:  schemas.RunNeedsReview,
		Reason: fmt.Sprintf("iteration budget exhausted after %d iterations", state.iteration),
	}, log)
}

// generateInitialCode produces the first code bundle for a goal-only
// variation. Returns a terminal outcome on failure, nil on success.
func (c *Controller) generateInitialCode(ctx context.Context, variation *schemas.Variation, log *zap.Logger) *schemas.RunOutcome {
	page, err := c.harness.CollectPageData(ctx)
	if err != nil {
		log.Warn("Page data collection failed; generating without page context.", zap.Error(err))
		page = nil
	}

	resp, err := c.generator.Generate(ctx, schemas.CodeRequest{
		Instruction: variation.Goal,
		Page:        page,
	})
	if err != nil {
		return &schemas.RunOutcome{
			State:  schemas.RunAborted,
			Reason: fmt.Sprintf("initial generation failed: %v", err),
		}
	}
	if resp == nil || resp.Code.IsEmpty() {
		return &schemas.RunOutcome{
			State:  schemas.RunAborted,
			Reason: ErrNoCode.Error(),
		}
	}
	variation.Code = validator.Normalize(resp.Code)
	return nil
}

// applyAndProbe resets, injects the current code, waits for the page to
// settle, and runs technical validation over a fresh TestResult. A non-nil
// outcome is terminal for the run.
func (c *Controller) applyAndProbe(ctx context.Context, variation *schemas.Variation, log *zap.Logger) (*schemas.TestResult, *schemas.RunOutcome) {
	// Reset-before-apply invariant: at most one payload per key prefix may be
	// injected at any instant. Reset is attempted every time; a timeout is
	// logged and tolerated.
	c.resetInjected(ctx, log)

	// Drain stale console noise so this iteration only sees its own errors.
	if _, err := c.harness.CollectConsoleErrors(ctx); err != nil {
		log.Warn("Failed to drain console errors before apply.", zap.Error(err))
	}

	applied, err := c.harness.ApplyCode(ctx, c.applyKey(variation), variation.Code)
	if err != nil {
		return nil, &schemas.RunOutcome{
			State:  schemas.RunAborted,
			Reason: fmt.Sprintf("harness apply failed: %v", err),
		}
	}
	if !applied.Success && applied.Error == "" && len(applied.Logs) == 0 {
		// An unexplained apply failure leaves nothing to build feedback from.
		return nil, &schemas.RunOutcome{
			State:  schemas.RunAborted,
			Reason: "harness apply failed with no logs or explanation",
		}
	}

	// Let asynchronous DOM mutation finish before probing.
	c.sleep(ctx, c.cfg.SettleDelay)

	consoleErrors, err := c.harness.CollectConsoleErrors(ctx)
	if err != nil {
		log.Warn("Console error collection failed.", zap.Error(err))
	}

	result := &schemas.TestResult{
		VariationID: variation.ID,
		Timestamp:   time.Now(),
	}
	if !applied.Success {
		result.Errors = append(result.Errors, fmt.Sprintf("code injection failed: %s", applied.Error))
	}

	report, err := c.validator.Validate(ctx, variation.Code)
	if err != nil {
		log.Warn("Technical validation errored; treating as blocking.", zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("technical validation failed: %v", err))
	} else {
		result.Errors = append(result.Errors, report.CriticalIssues...)
		for _, warning := range report.Warnings {
			log.Warn("Technical validation warning.", zap.String("warning", warning))
		}
	}
	result.Errors = append(result.Errors, consoleErrors...)

	return result, nil
}

// handleTechnicalFailure builds feedback from the technical issues and
// regenerates the code. A non-nil outcome is terminal.
func (c *Controller) handleTechnicalFailure(ctx context.Context, variation *schemas.Variation, state *iterationState, result *schemas.TestResult, log *zap.Logger) *schemas.RunOutcome {
	variation.TestStatus = schemas.TestStatusFailed
	log.Info("Technical validation failed.", zap.Strings("issues", result.Errors))

	if state.iteration >= state.maxIterations {
		return &schemas.RunOutcome{
			State:  schemas.RunNeedsReview,
			Reason: fmt.Sprintf("technical issues unresolved at iteration cap: %s", strings.Join(result.Errors, "; ")),
		}
	}

	fb := feedback.FromTechnicalErrors(*result, variation.Goal)
	if err := c.regenerate(ctx, variation, fb, log); err != nil {
		return &schemas.RunOutcome{
			State:  schemas.RunAborted,
			Reason: fmt.Sprintf("regeneration failed: %v", err),
		}
	}
	return nil
}

// runVisualQA captures the "after" screenshot and asks the judge for a
// verdict. Degraded capability (no screenshot) and judge failures both park
// the variation for review instead of crashing the run.
func (c *Controller) runVisualQA(ctx context.Context, variation *schemas.Variation, state *iterationState, before []byte, log *zap.Logger) (*schemas.QAResult, *schemas.RunOutcome) {
	if before == nil {
		log.Warn("Skipping visual QA: no baseline screenshot.")
		variation.TestStatus = schemas.TestStatusWarning
		return nil, &schemas.RunOutcome{
			State:  schemas.RunNeedsReview,
			Reason: "technical checks passed but visual QA was skipped (baseline screenshot unavailable)",
		}
	}

	after, err := c.harness.CaptureScreenshot(ctx)
	if err != nil {
		log.Warn("After screenshot unavailable; skipping visual QA.", zap.Error(err))
		variation.TestStatus = schemas.TestStatusWarning
		return nil, &schemas.RunOutcome{
			State:  schemas.RunNeedsReview,
			Reason: "technical checks passed but visual QA was skipped (after screenshot unavailable)",
		}
	}

	qaResult, err := c.judge.RunQA(ctx, schemas.QARequest{
		OriginalRequest: variation.Goal,
		Before:          before,
		After:           after,
		Iteration:       state.iteration,
		PreviousDefects: state.previousDefects,
		GeneratedCode:   variation.Code,
	})
	if err != nil {
		log.Warn("Visual judge failed; parking variation for review.", zap.Error(err))
		return nil, &schemas.RunOutcome{
			State:  schemas.RunNeedsReview,
			Reason: fmt.Sprintf("visual QA failed: %v", err),
		}
	}

	qaResult.Iteration = state.iteration
	variation.QAHistory = append(variation.QAHistory, *qaResult)
	return qaResult, nil
}

// shouldContinueIteration decides whether another visual-defect round is
// worth attempting.
func (c *Controller) shouldContinueIteration(qa *schemas.QAResult, state *iterationState) bool {
	if state.iteration >= state.maxIterations {
		return false
	}
	// Identical defect signature on consecutive passes: not converging.
	if len(state.previousDefects) > 0 &&
		schemas.DefectSignature(qa.Defects) == schemas.DefectSignature(state.previousDefects) {
		c.logger.Info("Defect signature repeated; stopping iteration.",
			zap.String("signature", schemas.DefectSignature(qa.Defects)))
		return false
	}
	// Safety valve bounding worst-case visual-QA cost, even while defects are
	// diminishing.
	if state.iteration >= c.cfg.VisualIterationCap {
		return false
	}
	if !qa.ShouldContinue {
		return false
	}
	return true
}

// regenerate replaces the variation's code wholesale from feedback.
func (c *Controller) regenerate(ctx context.Context, variation *schemas.Variation, fb string, log *zap.Logger) error {
	page, err := c.harness.CollectPageData(ctx)
	if err != nil {
		page = nil
	}

	resp, err := c.generator.Adjust(ctx, schemas.AdjustRequest{
		Instruction: variation.Goal,
		Page:        page,
		Previous:    variation.Code,
		Feedback:    fb,
	})
	if err != nil {
		return err
	}
	if resp == nil || resp.Code.IsEmpty() {
		return ErrNoCode
	}

	variation.Code = validator.Normalize(resp.Code)
	log.Info("Variation code regenerated.")
	return nil
}

// resetInjected clears this run's key prefix and the preview prefix, each
// within the reset timeout. Reset is best-effort: a timeout is not
// safety-critical and must not block forward progress.
func (c *Controller) resetInjected(ctx context.Context, log *zap.Logger) {
	prefixes := []string{c.cfg.KeyPrefix}
	if c.cfg.PreviewKeyPrefix != "" {
		prefixes = append(prefixes, c.cfg.PreviewKeyPrefix)
	}
	for _, prefix := range prefixes {
		resetCtx, cancel := context.WithTimeout(ctx, c.resetTimeout())
		err := c.harness.ResetByKeyPrefix(resetCtx, prefix)
		cancel()
		if err != nil {
			log.Warn("Reset did not complete; continuing anyway.",
				zap.String("prefix", prefix), zap.Error(err))
		}
	}
}

func (c *Controller) resetTimeout() time.Duration {
	if c.cfg.ResetTimeout > 0 {
		return c.cfg.ResetTimeout
	}
	return 5 * time.Second
}

func (c *Controller) applyKey(variation *schemas.Variation) string {
	return c.cfg.KeyPrefix + "-" + variation.ID
}

// finish stamps the outcome with run metadata, settles the variation's final
// status, and makes a best-effort cleanup pass so no code leaks past the run.
func (c *Controller) finish(variation *schemas.Variation, state *iterationState, outcome schemas.RunOutcome, log *zap.Logger) schemas.RunOutcome {
	outcome.VariationID = variation.ID
	outcome.Name = variation.Name
	outcome.Iterations = state.iteration
	outcome.Duration = time.Since(state.startTime)

	switch outcome.State {
	case schemas.RunAccepted:
		variation.TestStatus = schemas.TestStatusPassed
	case schemas.RunNeedsReview:
		if variation.TestStatus != schemas.TestStatusWarning {
			variation.TestStatus = schemas.TestStatusFailed
		}
	case schemas.RunAborted:
		variation.TestStatus = schemas.TestStatusFailed
	}

	log.Info("Convergence run finished",
		zap.String("state", string(outcome.State)),
		zap.Int("iterations", outcome.Iterations),
		zap.Duration("duration", outcome.Duration),
		zap.String("reason", outcome.Reason),
	)
	return outcome
}

// persistRun saves the run and its QA history; failures are logged only.
func (c *Controller) persistRun(targetURL string, variation *schemas.Variation, outcome schemas.RunOutcome) {
	if c.store == nil {
		return
	}
	// Persistence must not inherit run cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record := &schemas.RunRecord{
		ID:          uuid.New().String(),
		VariationID: variation.ID,
		Name:        variation.Name,
		TargetURL:   targetURL,
		Outcome:     outcome,
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		c.logger.Warn("Failed to persist run record.", zap.Error(err))
		return
	}
	for _, qa := range variation.QAHistory {
		if err := c.store.SaveQAResult(ctx, record.ID, qa); err != nil {
			c.logger.Warn("Failed to persist QA result.", zap.Error(err))
		}
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
