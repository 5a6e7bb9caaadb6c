package cli

import (
	"bytes"
	"testing"
	"time"
)

func TestParseAsOf(t *testing.T) {
	got, err := parseAsOf(" 2025-03-09 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2025, time.March, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", got)
	}

	if got, err := parseAsOf(""); err != nil || !got.IsZero() {
		t.Fatalf("expected zero time for empty flag, got %v err=%v", got, err)
	}
	if _, err := parseAsOf("09/03/2025"); err == nil {
		t.Fatal("expected error for non ISO date")
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{{"serve"}, {"scheduler"}, {"migrate"}, {"penalties", "run"}, {"installments", "extend"}} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered: %v", path, err)
		}
	}
	if rootCmd.PersistentFlags().Lookup("config-dir") == nil {
		t.Fatal("expected persistent --config-dir flag")
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, map[string]int{"updated": 2}); err != nil {
		t.Fatalf("printJSON: %v", err)
	}
	if buf.String() != "{\n  \"updated\": 2\n}\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
