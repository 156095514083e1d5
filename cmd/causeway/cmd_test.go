package main

import (
	"strings"
	"testing"
)

func TestCommandsRegistered(t *testing.T) {
	if rootCmd == nil {
		t.Fatal("rootCmd should not be nil")
	}

	expected := map[string]bool{
		"serve":   false,
		"seed":    false,
		"version": false,
	}

	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := expected[name]; ok {
			expected[name] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("expected command %q to be registered with root command", name)
		}
	}
}

func TestSeedFlagDefaults(t *testing.T) {
	flag := seedCmd.Flags().Lookup("count")
	if flag == nil {
		t.Fatal("seed command should define --count")
	}
	if flag.DefValue != "200" {
		t.Errorf("expected --count default 200, got %s", flag.DefValue)
	}

	if seedCmd.Flags().Lookup("spread") == nil {
		t.Error("seed command should define --spread")
	}

	stdout := seedCmd.Flags().Lookup("stdout")
	if stdout == nil {
		t.Fatal("seed command should define --stdout")
	}
	if stdout.DefValue != "false" {
		t.Errorf("expected --stdout default false, got %s", stdout.DefValue)
	}
}

func TestRootHasConfigFlag(t *testing.T) {
	if rootCmd.PersistentFlags().Lookup("config") == nil {
		t.Error("root command should define --config")
	}
}
