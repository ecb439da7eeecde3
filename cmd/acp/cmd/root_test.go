package cmd

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HsiangNianian/acp/internal/dispatch"
	"github.com/HsiangNianian/acp/internal/server"
	"github.com/HsiangNianian/acp/internal/store"
	"github.com/fatih/color"
)

func TestParseJSONArg(t *testing.T) {
	cases := map[string]string{
		`{"rows":100}`: `{"rows":100}`,
		` [1,2] `:      `[1,2]`,
		`42`:           `42`,
		`clean data`:   `"clean data"`,
	}
	for in, want := range cases {
		if got := string(parseJSONArg(in)); got != want {
			t.Fatalf("parseJSONArg(%q) = %s, want %s", in, got, want)
		}
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsAgainstPeer(t *testing.T) {
	d := dispatch.New("B", store.NewMemoryRegistry())
	peer := httptest.NewServer(server.New(d).Handler("/", "/ws"))
	defer peer.Close()

	out, err := run(t, "send", "B", "REQUEST", `{"q":"weather"}`, "--url", peer.URL, "--agent-id", "A")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "RESPOND") || !strings.Contains(out, `"request received"`) {
		t.Fatalf("send output:\n%s", out)
	}

	out, err = run(t, "negotiate", "B", `{"price":10}`, "--url", peer.URL, "--max-rounds", "2")
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if !strings.Contains(out, "accepted after 1 round(s)") {
		t.Fatalf("negotiate output:\n%s", out)
	}

	taskDB := t.TempDir() + "/tasks.db"
	t.Setenv("ACP_STORE_TASK_DB_PATH", taskDB)
	out, err = run(t, "delegate", "B", "clean data", "--url", peer.URL)
	if err != nil || !strings.Contains(out, "accepted task ") {
		t.Fatalf("delegate: %v\n%s", err, out)
	}
	out, err = run(t, "tasks")
	if err != nil || !strings.Contains(out, "clean data") || !strings.Contains(out, "accepted") {
		t.Fatalf("tasks: %v\n%s", err, out)
	}

	if _, err := run(t, "send", "B", "DANCE", "--url", peer.URL); err == nil || !strings.Contains(err.Error(), "UNSUPPORTED_ACTION") {
		t.Fatalf("expected refusal, got %v", err)
	}
}
