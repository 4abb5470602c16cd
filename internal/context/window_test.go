package context

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indiistudio/internal/types"
)

func TestPrepareWithinBudgetUnchanged(t *testing.T) {
	for _, h := range []string{"", "short", strings.Repeat("x", 100)} {
		assert.Equal(t, h, Prepare(h, 100))
	}
}

func TestPrepareOverBudget(t *testing.T) {
	markerLen := utf8.RuneCountInString(TruncationMarker)
	for budget := 0; budget < 60; budget += 7 {
		for _, n := range []int{budget + 1, budget + 5, budget * 3, 200} {
			h := strings.Repeat("a", n/2) + strings.Repeat("b", n-n/2)
			if n <= budget {
				continue
			}
			got := Prepare(h, budget)
			require.True(t, strings.HasPrefix(got, TruncationMarker), "budget=%d n=%d", budget, n)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), budget+markerLen)
			assert.True(t, strings.HasSuffix(h, strings.TrimPrefix(got, TruncationMarker)))
		}
	}
}

func TestPrepareKeepsMostRecent(t *testing.T) {
	h := "turn1: hello\nturn2: make a cover\nturn3: now a video"
	got := Prepare(h, 16)
	assert.Equal(t, TruncationMarker+"turn3: now a video"[2:], got)
}

func TestPrepareCountsRunes(t *testing.T) {
	h := "ééééé" // 5 runes, 10 bytes
	assert.Equal(t, h, Prepare(h, 5))

	got := Prepare(h+"ü", 3)
	assert.Equal(t, TruncationMarker+"ééü", got)
	assert.True(t, utf8.ValidString(got))
}

func TestPrepareNegativeBudget(t *testing.T) {
	assert.Equal(t, TruncationMarker, Prepare("abc", -1))
	assert.Equal(t, "", Prepare("", -1))
}

func TestTruncated(t *testing.T) {
	assert.False(t, Truncated("abc", 3))
	assert.True(t, Truncated("abcd", 3))
}

func TestBuildPrompt(t *testing.T) {
	ec := types.ExecutionContext{UserID: "u1", OrgID: "org-a", Tier: "pro"}
	req := types.ExecutionRequest{
		Task: "Generate asset",
		Context: types.RequestContext{
			ProjectID:   "proj-9",
			ChatHistory: strings.Repeat("h", 50),
			Attachments: []string{"cover.png"},
		},
	}

	got := BuildPrompt("  You are the studio generalist.\n", ec, req, 20)

	assert.True(t, strings.HasPrefix(got, "You are the studio generalist.\n\nCONTEXT:\n"))
	assert.Contains(t, got, `"projectId": "proj-9"`)
	assert.Contains(t, got, `"orgId": "org-a"`)
	assert.Contains(t, got, "HISTORY:\n"+TruncationMarker+strings.Repeat("h", 20))
	assert.Contains(t, got, "ATTACHMENTS:\n- cover.png")
	assert.NotContains(t, got, "Generate asset")
}

func TestBuildPromptOmitsEmptyHistory(t *testing.T) {
	got := BuildPrompt("sys", types.ExecutionContext{}, types.ExecutionRequest{Task: "t"}, 100)
	assert.NotContains(t, got, "HISTORY:")
	assert.NotContains(t, got, "ATTACHMENTS:")
}
