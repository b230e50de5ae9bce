package app

import (
	"bytes"
	"context"
	"testing"
)

func TestNewRootCommand_RegistersSubcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck} {
		cmd, _, err := root.Find([]string{string(name)})
		if err != nil {
			t.Errorf("Find(%q) error = %v", name, err)
			continue
		}
		if cmd.Name() != string(name) {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}
}

func TestNewRootCommand_MigrateDownFlag(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})
	cmd, _, err := root.Find([]string{"migrate"})
	if err != nil {
		t.Fatalf("Find(migrate) error = %v", err)
	}

	flag := cmd.Flags().Lookup("down")
	if flag == nil {
		t.Fatal("migrate has no --down flag")
	}
	if flag.DefValue != "0" {
		t.Errorf("--down default = %q, want 0", flag.DefValue)
	}
}

func TestRunContext_UnknownCommand(t *testing.T) {
	if err := RunContext(context.Background(), &bytes.Buffer{}, []string{"unknown"}); err == nil {
		t.Fatal("RunContext(unknown) error = nil, want error")
	}
}

func TestRunContext_RejectsExtraArgs(t *testing.T) {
	if err := RunContext(context.Background(), &bytes.Buffer{}, []string{"worker", "extra"}); err == nil {
		t.Fatal("RunContext(worker extra) error = nil, want error")
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandWorker, "worker"},
		{CommandMigrate, "migrate"},
		{CommandHealthcheck, "healthcheck"},
	}

	for _, tt := range tests {
		if got := string(tt.cmd); got != tt.want {
			t.Errorf("Command(%q) string = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
