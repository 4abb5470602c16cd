package agents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indiistudio/internal/types"
)

type echoRunner struct{ name string }

func (r echoRunner) RunTask(_ context.Context, _ *types.ExecutionContext, req types.ExecutionRequest) (string, error) {
	return r.name + ":" + req.Task, nil
}

func TestDefaultRoster(t *testing.T) {
	defs := DefaultDefinitions()
	var ids []string
	for _, d := range defs {
		ids = append(ids, d.ID)
		assert.NotEmpty(t, d.Tools, "agent %s has no tools", d.ID)
	}
	want := []string{"generalist", "video", "marketing", "social", "legal", "music"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("roster ids mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDefinitionsRejectsBadRosters(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want error
	}{
		"duplicate id": {
			yaml: "agents:\n  - {id: a, name: A, tools: [x]}\n  - {id: a, name: B, tools: [y]}\n",
			want: ErrDuplicateAgent,
		},
		"empty tool": {
			yaml: "agents:\n  - {id: a, name: A, tools: ['']}\n",
			want: ErrInvalidDefinition,
		},
		"bad id": {
			yaml: "agents:\n  - {id: 'Bad Id', name: A}\n",
			want: ErrInvalidDefinition,
		},
		"empty": {
			yaml: "agents: []\n",
			want: ErrInvalidDefinition,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tc.yaml))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadDefinitionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`agents:
  - id: tour
    name: Tour Manager
    description: Routing and venues.
    tools: [recall_memories]
`), 0644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Tour Manager", defs[0].Name)

	defs, err = LoadDefinitions("")
	require.NoError(t, err)
	assert.Len(t, defs, 6)
}

func TestDirectoryLazyInstantiation(t *testing.T) {
	builds := 0
	dir, err := NewDirectory(DefaultDefinitions(), func(def Definition) (Runner, error) {
		builds++
		if def.ID == "legal" {
			return nil, errors.New("init failed")
		}
		return echoRunner{name: def.Name}, nil
	})
	require.NoError(t, err)

	a, ok := dir.Get("video")
	require.True(t, ok)
	assert.Equal(t, "Video Director", a.Name)
	_, ok = dir.Get("video")
	require.True(t, ok)
	assert.Equal(t, 1, builds, "runner should be cached")

	_, ok = dir.Get("legal")
	assert.False(t, ok, "known id with failed factory is not live")
	_, known := dir.Definition("legal")
	assert.True(t, known)

	_, ok = dir.Get("nope")
	assert.False(t, ok)
}

func TestDirectoryRegister(t *testing.T) {
	dir, err := NewDirectory(DefaultDefinitions(), nil)
	require.NoError(t, err)

	_, ok := dir.Get("music")
	assert.False(t, ok)

	require.NoError(t, dir.Register("music", echoRunner{name: "m"}))
	a, ok := dir.Get("music")
	require.True(t, ok)
	out, err := a.Runner.RunTask(context.Background(), &types.ExecutionContext{}, types.ExecutionRequest{Task: "mix notes"})
	require.NoError(t, err)
	assert.Equal(t, "m:mix notes", out)

	assert.Error(t, dir.Register("ghost", echoRunner{}))
}

func TestListCapabilities(t *testing.T) {
	dir, err := NewDirectory(DefaultDefinitions(), nil)
	require.NoError(t, err)

	lines := strings.Split(dir.ListCapabilities(), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "- Agent Zero (generalist): "), lines[0])

	def, _ := dir.Definition("generalist")
	prompt := dir.SystemPrompt(def)
	assert.NotContains(t, prompt, CapabilitiesPlaceholder)
	assert.Contains(t, prompt, "- Legal Advisor (legal):")
}
