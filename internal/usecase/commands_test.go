package usecase

import (
	"context"
	"errors"
	"testing"

	"forge-ai/internal/domain"
)

func echoCommand(name string) domain.Command {
	return domain.Command{
		Name:        name,
		Description: "echo args",
		Execute: func(_ context.Context, args string, _ *domain.ToolContext) (*domain.CommandResult, error) {
			return &domain.CommandResult{Output: args}, nil
		},
	}
}

func TestCommandRegistryRegister(t *testing.T) {
	r := NewCommandRegistry()
	if err := r.Register(echoCommand("echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoCommand("echo")); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("duplicate register err = %v, want ErrDuplicate", err)
	}

	if _, err := r.Get("echo"); err != nil {
		t.Errorf("Get failed: %v", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrCommandNotFound) {
		t.Errorf("missing command err = %v, want ErrCommandNotFound", err)
	}
}

func TestCommandRegistryListSorted(t *testing.T) {
	r := NewCommandRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(echoCommand(name)); err != nil {
			t.Fatal(err)
		}
	}
	cmds := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(cmds) != len(want) {
		t.Fatalf("len = %d, want %d", len(cmds), len(want))
	}
	for i, name := range want {
		if cmds[i].Name != name {
			t.Errorf("cmds[%d] = %q, want %q", i, cmds[i].Name, name)
		}
	}
}

func TestCommandDispatch(t *testing.T) {
	r := NewCommandRegistry()
	if err := r.Register(echoCommand("echo")); err != nil {
		t.Fatal(err)
	}

	res, err := r.Dispatch(context.Background(), "/echo hello world", nil)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Output != "hello world" {
		t.Errorf("output = %q, want %q", res.Output, "hello world")
	}

	// No arguments.
	res, err = r.Dispatch(context.Background(), "/echo", nil)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.Output != "" {
		t.Errorf("output = %q, want empty", res.Output)
	}

	if _, err := r.Dispatch(context.Background(), "/nope", nil); !errors.Is(err, domain.ErrCommandNotFound) {
		t.Errorf("err = %v, want ErrCommandNotFound", err)
	}
}
