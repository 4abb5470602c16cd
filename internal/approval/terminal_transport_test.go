package approval

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestPromptModelKeys(t *testing.T) {
	tests := []struct {
		key  tea.KeyMsg
		want Decision
	}{
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")}, Approve},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("N")}, Deny},
		{tea.KeyMsg{Type: tea.KeyEsc}, Cancel},
		{tea.KeyMsg{Type: tea.KeyEnter}, Approve},
	}
	for _, tt := range tests {
		m := newPromptModel(videoRequest())
		next, cmd := m.Update(tt.key)
		pm := next.(promptModel)
		assert.True(t, pm.answered, tt.key.String())
		assert.Equal(t, tt.want, pm.decision, tt.key.String())
		assert.NotNil(t, cmd)
	}
}

func TestPromptModelIgnoresOtherKeys(t *testing.T) {
	m := newPromptModel(videoRequest())
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.False(t, next.(promptModel).answered)
	assert.Nil(t, cmd)
}

func TestPromptView(t *testing.T) {
	req := videoRequest()
	req.Reason = "30s video for the tour teaser"
	view := newPromptModel(req).View()
	assert.Contains(t, view, "Approval required: generate_video")
	assert.Contains(t, view, "Estimated cost: 30.00")
	assert.Contains(t, view, "tour teaser")
	assert.Contains(t, view, "[y] approve")
}
