package tools

import (
	"context"
	"errors"
	"testing"

	"indiistudio/internal/types"
)

func okHandler(ctx context.Context, ec *types.ExecutionContext, args map[string]any) (types.ToolResult, error) {
	return types.OK("success"), nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if reg.Count() != 0 {
		t.Errorf("new registry should be empty, got %d tools", reg.Count())
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Category:    CategoryGeneral,
		Handler:     okHandler,
	}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got := reg.Get("test_tool")
	if got == nil {
		t.Fatal("Get returned nil for registered tool")
	}
	if got.Name != "test_tool" {
		t.Errorf("got name %q, want %q", got.Name, "test_tool")
	}
	if !reg.Has("test_tool") || reg.Has("other") {
		t.Error("Has reported the wrong membership")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry()

	tool := &Tool{Name: "dupe", Category: CategoryGeneral, Handler: okHandler}

	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}

	err := reg.Register(tool)
	if !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name    string
		tool    *Tool
		wantErr error
	}{
		{
			name:    "empty name",
			tool:    &Tool{Name: "", Handler: okHandler},
			wantErr: ErrToolNameEmpty,
		},
		{
			name:    "nil handler",
			tool:    &Tool{Name: "no_handler"},
			wantErr: ErrToolHandlerNil,
		},
		{
			name: "required without property",
			tool: &Tool{
				Name:    "bad_schema",
				Handler: okHandler,
				Schema:  Schema{Required: []string{"prompt"}},
			},
			wantErr: ErrInvalidSchema,
		},
		{
			name: "array without items",
			tool: &Tool{
				Name:    "bad_array",
				Handler: okHandler,
				Schema: Schema{Properties: map[string]Property{
					"tags": {Type: TypeArray},
				}},
			},
			wantErr: ErrInvalidSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.tool)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMustRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{Name: "once", Handler: okHandler})

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on duplicate")
		}
	}()
	reg.MustRegister(&Tool{Name: "once", Handler: okHandler})
}

func TestNamesAndCategories(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{Name: "generate_video", Category: CategoryGeneration, Handler: okHandler})
	reg.MustRegister(&Tool{Name: "generate_image", Category: CategoryGeneration, Handler: okHandler})
	reg.MustRegister(&Tool{Name: "cancel_job", Category: CategoryJobs, Handler: okHandler})

	names := reg.Names()
	want := []string{"cancel_job", "generate_image", "generate_video"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}

	gen := reg.GetByCategory(CategoryGeneration)
	if len(gen) != 2 || gen[0].Name != "generate_image" {
		t.Errorf("GetByCategory returned %d tools, first=%v", len(gen), gen)
	}
}

func TestBind(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{Name: "a", Handler: okHandler})
	reg.MustRegister(&Tool{Name: "b", Handler: okHandler})

	ts, err := reg.Bind([]string{"b", "a"})
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if got := ts.Names(); len(got) != 2 || got[0] != "b" {
		t.Errorf("Names() = %v, want declaration order", got)
	}

	if _, err := reg.Bind([]string{"a", "missing"}); !errors.Is(err, ErrMissingHandler) {
		t.Errorf("expected ErrMissingHandler, got %v", err)
	}
	if _, err := reg.Bind([]string{"a", "a"}); !errors.Is(err, ErrDuplicateDeclaration) {
		t.Errorf("expected ErrDuplicateDeclaration, got %v", err)
	}
}

func TestDefinitions(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&Tool{Name: "a", Description: "does a", Handler: okHandler})

	defs := reg.Definitions([]string{"a", "zzz"})
	if len(defs) != 1 || defs[0].Description != "does a" {
		t.Errorf("Definitions = %+v", defs)
	}
}
