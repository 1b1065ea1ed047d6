//go:build go1.18
// +build go1.18

package validator

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"

	"github.com/xkilldash9x/converge-cli/api/schemas"
)

// The scanning heuristics take arbitrary model output; none of them may panic,
// whatever the model emits.

func FuzzNormalizeAndScan(f *testing.F) {
	f.Add([]byte("```css\n.hero { color: {{tone}}; }\n```"))
	f.Add([]byte(`document.querySelector('.cta').remove();`))
	f.Add([]byte("const x = document.createElement('div'); x.className = 'a b';"))

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		css, err := consumer.GetString()
		if err != nil {
			return
		}
		js, err := consumer.GetString()
		if err != nil {
			return
		}

		code := Normalize(schemas.GeneratedCode{CSS: css, JS: js})
		selectors := ExtractSelectors(code.JS)
		tokens := CollectDynamicTokens(code.JS)
		for _, sel := range selectors {
			_ = isDynamicSelector(sel, tokens)
			_ = hasFallbackGuard(code.JS, sel)
		}
	})
}
