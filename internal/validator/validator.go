// internal/validator/validator.go
// Static and dynamic checks on a generated code variation: normalization of AI
// formatting artifacts, unsafe-construct detection, and cross-referencing of
// DOM selectors against the live page.
package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/converge-cli/api/schemas"
	"github.com/xkilldash9x/converge-cli/internal/llmutil"
)

var (
	// Unresolved template placeholders mean the model returned incomplete output.
	curlyPlaceholderRegex  = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	dollarPlaceholderRegex = regexp.MustCompile(`\$\{[A-Z][A-Z0-9_]*\}`)

	evalRegex          = regexp.MustCompile(`\beval\s*\(`)
	documentWriteRegex = regexp.MustCompile(`document\s*\.\s*write(ln)?\s*\(`)

	// Selector literals passed to DOM query APIs.
	querySelectorRegex  = regexp.MustCompile(`(?:querySelectorAll|querySelector|closest|matches)\s*\(\s*['"]([^'"]+)['"]`)
	getElementByIDRegex = regexp.MustCompile(`getElementById\s*\(\s*['"]([^'"]+)['"]`)
	jqueryRegex         = regexp.MustCompile(`\$\(\s*['"]([^'"]+)['"]`)

	// Variables holding elements the code creates at runtime.
	createdVarRegex = regexp.MustCompile(`(?:const|let|var)\s+(\w+)\s*=\s*document\s*\.\s*createElement`)
)

// Validator runs technical validation for one variation against the live page.
type Validator struct {
	logger  *zap.Logger
	harness schemas.PageHarness
}

// New creates a validator bound to the page harness used for existence checks.
func New(logger *zap.Logger, harness schemas.PageHarness) *Validator {
	return &Validator{
		logger:  logger.Named("validator"),
		harness: harness,
	}
}

// Normalize strips markdown fences and surrounding noise from generated code.
// Run it before Validate and before injecting the code.
func Normalize(code schemas.GeneratedCode) schemas.GeneratedCode {
	return schemas.GeneratedCode{
		CSS: llmutil.CleanCodeOutput(code.CSS),
		JS:  llmutil.CleanCodeOutput(code.JS),
	}
}

// Validate checks the (already normalized) code bundle. Critical issues must
// block acceptance and trigger regeneration; warnings are advisory only.
// Selector existence checks hit the live DOM through the harness, so the
// variation must not be applied yet when this runs against the baseline page.
func (v *Validator) Validate(ctx context.Context, code schemas.GeneratedCode) (schemas.ValidationReport, error) {
	var report schemas.ValidationReport

	v.checkPlaceholders(code, &report)
	v.checkUnsafeConstructs(code.JS, &report)

	if err := v.checkSelectors(ctx, code.JS, &report); err != nil {
		return report, err
	}

	v.logger.Debug("Technical validation complete",
		zap.Int("critical", len(report.CriticalIssues)),
		zap.Int("warnings", len(report.Warnings)),
	)
	return report, nil
}

func (v *Validator) checkPlaceholders(code schemas.GeneratedCode, report *schemas.ValidationReport) {
	for _, src := range []struct {
		label string
		text  string
	}{
		{"CSS", code.CSS},
		{"JS", code.JS},
	} {
		for _, re := range []*regexp.Regexp{curlyPlaceholderRegex, dollarPlaceholderRegex} {
			if match := re.FindString(src.text); match != "" {
				report.CriticalIssues = append(report.CriticalIssues,
					fmt.Sprintf("%s contains an unresolved template placeholder %q; the generated output is incomplete", src.label, match))
			}
		}
	}
}

func (v *Validator) checkUnsafeConstructs(js string, report *schemas.ValidationReport) {
	if documentWriteRegex.MatchString(js) {
		report.CriticalIssues = append(report.CriticalIssues,
			"JS uses document.write, which can destroy the page under test")
	}
	if evalRegex.MatchString(js) {
		report.CriticalIssues = append(report.CriticalIssues,
			"JS uses eval, which is not allowed in generated variations")
	}
}

// checkSelectors extracts selector literals from the JS, skips the ones the
// code itself creates at runtime, and verifies the rest exist in the live DOM.
func (v *Validator) checkSelectors(ctx context.Context, js string, report *schemas.ValidationReport) error {
	if strings.TrimSpace(js) == "" {
		return nil
	}

	selectors := ExtractSelectors(js)
	if len(selectors) == 0 {
		return nil
	}

	dynamicTokens := CollectDynamicTokens(js)

	for _, selector := range selectors {
		if isDynamicSelector(selector, dynamicTokens) {
			v.logger.Debug("Skipping dynamically created selector", zap.String("selector", selector))
			continue
		}

		exists, err := v.harness.SelectorExists(ctx, selector)
		if err != nil {
			return fmt.Errorf("selector existence check failed for %q: %w", selector, err)
		}
		if exists {
			continue
		}

		if hasFallbackGuard(js, selector) {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("Element not found: %s (code guards the lookup with a fallback)", selector))
			continue
		}
		report.CriticalIssues = append(report.CriticalIssues, fmt.Sprintf("Element not found: %s", selector))
	}
	return nil
}

// ExtractSelectors returns the unique selector literals the JS passes to DOM
// query APIs, in first-seen order. getElementById arguments are normalized to
// "#id" selectors.
func ExtractSelectors(js string) []string {
	seen := make(map[string]bool)
	var selectors []string

	add := func(sel string) {
		sel = strings.TrimSpace(sel)
		if sel == "" || seen[sel] {
			return
		}
		seen[sel] = true
		selectors = append(selectors, sel)
	}

	for _, m := range querySelectorRegex.FindAllStringSubmatch(js, -1) {
		add(m[1])
	}
	for _, m := range getElementByIDRegex.FindAllStringSubmatch(js, -1) {
		add("#" + m[1])
	}
	for _, m := range jqueryRegex.FindAllStringSubmatch(js, -1) {
		// $("...") also accepts HTML fragments; only selector-looking strings count.
		if !strings.HasPrefix(m[1], "<") {
			add(m[1])
		}
	}
	return selectors
}

// CollectDynamicTokens gathers class and id tokens the code assigns to
// elements it creates itself. A selector built from these tokens must not be
// checked against the pre-existing DOM.
func CollectDynamicTokens(js string) map[string]bool {
	tokens := make(map[string]bool)

	for _, m := range createdVarRegex.FindAllStringSubmatch(js, -1) {
		varName := regexp.QuoteMeta(m[1])

		classNameRegex := regexp.MustCompile(varName + `\s*\.\s*className\s*[+]?=\s*['"]([^'"]+)['"]`)
		for _, cm := range classNameRegex.FindAllStringSubmatch(js, -1) {
			for _, token := range strings.Fields(cm[1]) {
				tokens[token] = true
			}
		}

		classListRegex := regexp.MustCompile(varName + `\s*\.\s*classList\s*\.\s*add\s*\(([^)]*)\)`)
		for _, cm := range classListRegex.FindAllStringSubmatch(js, -1) {
			for _, lit := range regexp.MustCompile(`['"]([^'"]+)['"]`).FindAllStringSubmatch(cm[1], -1) {
				tokens[lit[1]] = true
			}
		}

		idRegex := regexp.MustCompile(varName + `\s*\.\s*id\s*=\s*['"]([^'"]+)['"]`)
		for _, cm := range idRegex.FindAllStringSubmatch(js, -1) {
			tokens["#"+cm[1]] = true
		}

		setAttrRegex := regexp.MustCompile(varName + `\s*\.\s*setAttribute\s*\(\s*['"]class['"]\s*,\s*['"]([^'"]+)['"]`)
		for _, cm := range setAttrRegex.FindAllStringSubmatch(js, -1) {
			for _, token := range strings.Fields(cm[1]) {
				tokens[token] = true
			}
		}
	}
	return tokens
}

// isDynamicSelector reports whether every class/id token in the selector was
// created by the code itself. A compound selector mixing a created class with
// a pre-existing one still needs the pre-existing part checked, but the
// heuristic errs toward skipping once any token is known-dynamic: the created
// half would never match the baseline DOM anyway.
func isDynamicSelector(selector string, dynamicTokens map[string]bool) bool {
	if len(dynamicTokens) == 0 {
		return false
	}
	if dynamicTokens[selector] {
		return true
	}
	tokenRegex := regexp.MustCompile(`[.#]([\w-]+)`)
	for _, m := range tokenRegex.FindAllStringSubmatch(selector, -1) {
		if dynamicTokens[m[1]] || dynamicTokens["#"+m[1]] {
			return true
		}
	}
	return false
}

// hasFallbackGuard is a best-effort scan for patterns indicating the code
// tolerates the selector being absent: a conditional existence check, an ||
// chained alternative, or a literal fallback assignment. False negatives block
// a working variation (safe); false positives let a broken one through, so the
// patterns stay narrow.
func hasFallbackGuard(js, selector string) bool {
	quoted := regexp.QuoteMeta(selector)
	// getElementById selectors were normalized to "#id"; the source literal is
	// the bare id, so match either spelling.
	if id, ok := strings.CutPrefix(selector, "#"); ok && !strings.ContainsAny(id, " .#[") {
		quoted = "(?:" + quoted + "|" + regexp.QuoteMeta(id) + ")"
	}

	patterns := []string{
		// if (document.querySelector('sel')) { ... } / if (!el) return;
		`if\s*\(\s*!?\s*[\w.$]*\s*(?:querySelector(?:All)?|closest|getElementById)\s*\(\s*['"]` + quoted + `['"]`,
		// const el = document.querySelector('sel') || <alternative>;
		`['"]` + quoted + `['"]\s*\)\s*\|\|`,
		// Literal fallback string on the same statement.
		`['"]` + quoted + `['"][^;\n]*\|\|\s*['"][^'"]*['"]`,
	}
	for _, p := range patterns {
		if regexp.MustCompile(p).MatchString(js) {
			return true
		}
	}

	// Variable-level guard: el assigned from the selector, then `if (el)`.
	assignRegex := regexp.MustCompile(`(?:const|let|var)\s+(\w+)\s*=\s*[\w.$]*\s*(?:querySelector(?:All)?|closest|getElementById)\s*\(\s*['"]` + quoted + `['"]`)
	if m := assignRegex.FindStringSubmatch(js); m != nil {
		guardRegex := regexp.MustCompile(`if\s*\(\s*!?\s*` + regexp.QuoteMeta(m[1]) + `\b`)
		if guardRegex.MatchString(js) {
			return true
		}
	}
	return false
}
