package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestBuildSchema(t *testing.T) {
	root := &cobra.Command{Use: "verbex"}
	leaf := &cobra.Command{Use: "quote", Short: "quote a swap"}
	leaf.Flags().String("amount", "", "amount to swap")
	root.AddCommand(leaf)

	s, err := Build(root, "quote")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "verbex quote" {
		t.Fatalf("unexpected path: %s", s.Path)
	}
	if len(s.Flags) != 1 || s.Flags[0].Name != "amount" {
		t.Fatalf("unexpected flags: %+v", s.Flags)
	}
}

func TestBuildSchemaUnknownCommand(t *testing.T) {
	root := &cobra.Command{Use: "verbex"}
	if _, err := Build(root, "nope"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}
