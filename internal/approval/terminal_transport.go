package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"indiistudio/internal/logging"
)

var (
	promptTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	promptBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	promptHintStyle  = lipgloss.NewStyle().Faint(true)
)

// TerminalTransport asks for approval with an interactive terminal prompt.
// Prompts are shown one at a time.
type TerminalTransport struct {
	in   io.Reader
	out  io.Writer
	slot chan struct{}
}

// NewTerminalTransport creates a prompt transport over in/out.
func NewTerminalTransport(in io.Reader, out io.Writer) *TerminalTransport {
	return &TerminalTransport{in: in, out: out, slot: make(chan struct{}, 1)}
}

// Emit implements Transport. The prompt runs in the background and is torn
// down when ctx ends.
func (t *TerminalTransport) Emit(ctx context.Context, req Request, r Resolver) error {
	go func() {
		select {
		case t.slot <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-t.slot }()

		d, err := t.prompt(ctx, req)
		if err != nil {
			if ctx.Err() == nil {
				logging.Get(logging.CategoryApproval).Error("Approval prompt failed for %s: %v", req.ID, err)
			}
			return
		}
		r.Resolve(req.ID, d)
	}()
	return nil
}

func (t *TerminalTransport) prompt(ctx context.Context, req Request) (Decision, error) {
	m := newPromptModel(req)
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
		tea.WithoutSignalHandler(),
	)
	final, err := p.Run()
	if err != nil {
		return Cancel, err
	}
	pm, ok := final.(promptModel)
	if !ok || !pm.answered {
		return Cancel, fmt.Errorf("prompt closed without an answer")
	}
	return pm.decision, nil
}

// promptModel is the bubbletea model behind the approval prompt.
type promptModel struct {
	req      Request
	decision Decision
	answered bool
}

func newPromptModel(req Request) promptModel {
	return promptModel{req: req, decision: Cancel}
}

func (m promptModel) Init() tea.Cmd { return nil }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch strings.ToLower(key.String()) {
	case "y", "enter":
		m.decision, m.answered = Approve, true
		return m, tea.Quit
	case "n":
		m.decision, m.answered = Deny, true
		return m, tea.Quit
	case "esc", "ctrl+c", "q":
		m.decision, m.answered = Cancel, true
		return m, tea.Quit
	}
	return m, nil
}

func (m promptModel) View() string {
	if m.answered {
		return fmt.Sprintf("%s %s\n", m.req.ToolName, m.decision)
	}
	return promptBoxStyle.Render(renderRequest(m.req)) + "\n" +
		promptHintStyle.Render("[y] approve  [n] deny  [esc] cancel") + "\n"
}

func renderRequest(req Request) string {
	var sb strings.Builder
	sb.WriteString(promptTitleStyle.Render("Approval required: " + req.ToolName))
	sb.WriteString("\n")
	if req.Reason != "" {
		sb.WriteString(req.Reason)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Estimated cost: %.2f\n", req.EstimatedCost)
	if args, err := json.MarshalIndent(req.Args, "", "  "); err == nil {
		sb.Write(args)
	}
	return sb.String()
}
