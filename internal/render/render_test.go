package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	snapshot := map[string]any{
		"firstName": "Ada",
		"leadScore": 42.5,
		"tags":      []string{"vip", "newsletter"},
		"active":    true,
	}

	cases := []struct {
		name     string
		template string
		want     string
	}{
		{"plain text", "no tags here", "no tags here"},
		{"single tag", "Hi {{firstName}}!", "Hi Ada!"},
		{"unknown field", "Hi {{nickname}}!", "Hi !"},
		{"number", "score: {{leadScore}}", "score: 42.5"},
		{"bool", "active: {{active}}", "active: true"},
		{"string slice", "tags: {{tags}}", "tags: vip, newsletter"},
		{"whitespace inside tag", "Hi {{ firstName }}!", "Hi Ada!"},
		{"adjacent tags", "{{firstName}}{{leadScore}}", "Ada42.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Render(tc.template, snapshot)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRenderUnclosedTag(t *testing.T) {
	_, err := Render("Hi {{firstName", map[string]any{"firstName": "Ada"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed merge tag")
}

func TestRenderNilSnapshot(t *testing.T) {
	got, err := Render("Hi {{firstName}}!", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi !", got)
}
