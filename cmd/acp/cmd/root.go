package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/HsiangNianian/acp/internal/agent"
	"github.com/HsiangNianian/acp/internal/config"
	"github.com/HsiangNianian/acp/internal/logging"
	"github.com/HsiangNianian/acp/internal/protocol"
	"github.com/HsiangNianian/acp/internal/store"
	"github.com/HsiangNianian/acp/internal/transport"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	agentID       string
	baseURL       string
	transportKind string
	withSession   bool

	cfg config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "acp",
	Short:         "Agent Communication Protocol client and server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if agentID != "" {
			cfg.Agent.ID = agentID
		}
		if baseURL != "" {
			cfg.Transport.BaseURL = baseURL
		}
		if transportKind != "" {
			cfg.Transport.Kind = transportKind
		}
		log = logging.New(cfg.Log, "acp")
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "HuJSON config file")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent-id", "", "local agent id")
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "", "peer endpoint URL (default http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&transportKind, "transport", "", "transport binding: http or ws")
	rootCmd.PersistentFlags().BoolVar(&withSession, "session", false, "start a session before sending")
}

// openTasks returns the configured task store and a function releasing it.
func openTasks() (store.TaskStore, func(), error) {
	if cfg.Store.TaskDBPath == "" {
		return store.NewMemoryTaskStore(), func() {}, nil
	}
	st, err := store.NewSQLiteTaskStore(cfg.Store.TaskDBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// newAgent builds the local agent from cfg. The returned function releases
// the transport and the task store.
func newAgent(tasks store.TaskStore) (*agent.Agent, func(), error) {
	tr, err := transport.New(cfg.Transport.Kind, cfg.Transport.BaseURL, cfg.Server.WSPath, cfg.Transport.Timeout())
	if err != nil {
		return nil, nil, err
	}
	opts := []agent.Option{
		agent.WithTaskStore(tasks),
		agent.WithMaxRounds(cfg.Agent.MaxNegotiationRounds),
		agent.WithLogger(log),
	}
	if cfg.Agent.SessionGate {
		opts = append(opts, agent.WithSessionGate())
	}
	a := agent.New(cfg.Agent.ID, cfg.Agent.Capabilities, tr, opts...)
	if withSession {
		token := a.StartSession()
		log.Debug().Str("session_token", token).Msg("session started")
	}
	release := func() {
		if c, ok := tr.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return a, release, nil
}

// withAgent runs fn against a freshly built agent and releases it afterwards.
func withAgent(fn func(ctx context.Context, a *agent.Agent) error) error {
	tasks, closeTasks, err := openTasks()
	if err != nil {
		return err
	}
	defer closeTasks()
	a, release, err := newAgent(tasks)
	if err != nil {
		return err
	}
	defer release()
	return fn(context.Background(), a)
}

// parseJSONArg accepts a JSON document, or falls back to a plain string.
func parseJSONArg(arg string) json.RawMessage {
	trimmed := strings.TrimSpace(arg)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(arg)
	return b
}

func printEnvelope(w io.Writer, env protocol.Envelope) error {
	color.New(color.FgGreen, color.Bold).Fprintf(w, "%s", env.Body.Action)
	fmt.Fprintf(w, " from %s (msg %s)\n", env.Header.Sender, env.Header.MessageID)
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(b))
	return nil
}
