package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	Status  string   `json:"status"`
	Defects []string `json:"defects"`
}

func TestParseJSONResponse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected verdict
		wantErr  bool
	}{
		{
			name:     "bare json",
			input:    `{"status":"pass","defects":[]}`,
			expected: verdict{Status: "pass", Defects: []string{}},
		},
		{
			name:     "fenced json",
			input:    "```json\n{\"status\":\"fail\",\"defects\":[\"contrast\"]}\n```",
			expected: verdict{Status: "fail", Defects: []string{"contrast"}},
		},
		{
			name:     "fenced without language tag",
			input:    "```\n{\"status\":\"pass\"}\n```",
			expected: verdict{Status: "pass"},
		},
		{
			name:     "json buried in prose",
			input:    "Here is my assessment:\n{\"status\":\"fail\",\"defects\":[\"layout\"]}\nLet me know.",
			expected: verdict{Status: "fail", Defects: []string{"layout"}},
		},
		{
			name:    "no json at all",
			input:   "I could not complete the comparison.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			input:   `{"status": "pass", "defects": [`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[verdict](tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, *got)
		})
	}
}

func TestCleanCodeOutput(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"bare code untouched", ".hero { color: red; }", ".hero { color: red; }"},
		{"css fence", "```css\n.hero { color: red; }\n```", ".hero { color: red; }"},
		{"javascript fence", "```javascript\ndocument.title = 'x';\n```", "document.title = 'x';"},
		{"fence without tag", "```\nvar x = 1;\n```", "var x = 1;"},
		{"leading whitespace", "  \n```js\nlet a = 2;\n```", "let a = 2;"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CleanCodeOutput(tc.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
