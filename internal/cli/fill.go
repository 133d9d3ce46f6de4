package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"formsave/internal/answers/model"
	"formsave/internal/autosave"
	"formsave/internal/config"
	"formsave/internal/saverpc"
	"formsave/middleware"
	"formsave/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// FillOptions holds flags for the fill command.
type FillOptions struct {
	*RootOptions
	Server   string
	Session  string
	Token    string
	Secret   string
	User     string
	From     string
	Watch    bool

	Debounce     time.Duration
	SavedDisplay time.Duration
	SaveTimeout  time.Duration
}

// EditScript is the --from file: edits applied in order before reading stdin.
//
//	edits:
//	  - name: Ada
//	  - age: 36
//	    tags: [math, engines]
type EditScript struct {
	Edits []map[string]any `yaml:"edits"`
}

func NewFillCommand(rootOpts *RootOptions) *cobra.Command {
	return newFillCommand(&FillOptions{RootOptions: rootOpts})
}

func newFillCommand(opts *FillOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Edit a session's answers with autosave",
		Long: `Open an answer set and edit it from the terminal with autosave.

Timings default to AUTOSAVE_DEBOUNCE_MS, AUTOSAVE_SAVED_DISPLAY_MS and
SAVE_TIMEOUT_MS from the environment (and .env); flags override them.

Each input line is either an edit or a command:
  key=value          set a field; value is JSON, or a plain string
  :resolve latest    take the server's answers after a conflict
  :resolve local     keep your answers after a conflict
  :retry             save now
  :state             print the autosave state
  :dump              print the state and answers in full
  :quit              save pending edits and exit

Example:
  formsave fill --server http://localhost:8080 --secret $JWT_SECRET --user ada
  formsave fill --server http://localhost:8080 --token $TOKEN --session 3f1c... --from answers.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFill(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.Session, "session", "", "answer set id (a new one is created when empty)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "JWT secret used to sign a token for --user")
	cmd.Flags().StringVar(&opts.User, "user", "", "user id to sign a token for")
	cmd.Flags().StringVar(&opts.From, "from", "", "YAML edit script applied before reading stdin")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "print versions saved by other tabs")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", autosave.DefaultDebounce, "quiet period before saving")
	cmd.Flags().DurationVar(&opts.SavedDisplay, "saved-display", autosave.DefaultSavedDisplay, "how long the saved status shows")
	cmd.Flags().DurationVar(&opts.SaveTimeout, "save-timeout", autosave.DefaultSaveTimeout, "timeout of one save request")

	return cmd
}

func runFill(cmd *cobra.Command, opts *FillOptions) error {
	if opts.LogLevel != "" {
		logger.Init(opts.LogLevel)
		defer logger.Sync()
	}

	opts.applyTimings(cmd, config.LoadAutosave(opts.envFiles()...))

	token, err := opts.token()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := &syncWriter{w: cmd.OutOrStdout()}
	client := saverpc.NewClient(opts.Server, token, nil)

	doc, err := openDocument(ctx, client, opts.Session)
	if err != nil {
		return err
	}
	out.Printf("session %s at version %d\n", doc.ID, doc.Version)

	session, err := autosave.NewSession(doc.ID, client, doc.Answers, doc.Version,
		autosave.WithDebounce(opts.Debounce),
		autosave.WithSavedDisplay(opts.SavedDisplay),
		autosave.WithSaveTimeout(opts.SaveTimeout),
		autosave.WithObserver(func(st autosave.State) { out.Println(formatState(st)) }),
	)
	if err != nil {
		return err
	}
	defer session.Close()

	if opts.Watch {
		go watchVersions(ctx, client, doc.ID, out)
	}

	if opts.From != "" {
		if err := applyScript(session, opts.From); err != nil {
			return err
		}
	}

	if err := runREPL(session, cmd.InOrStdin(), out); err != nil {
		return err
	}

	// Room for a save already in flight plus the flushed one.
	flushCtx, flushCancel := context.WithTimeout(ctx, 2*opts.SaveTimeout)
	defer flushCancel()
	if err := session.Flush(flushCtx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	st := session.State()
	out.Println("final:", formatState(st))
	if st.Dirty {
		return errors.New("unsaved edits remain")
	}
	return nil
}

// applyTimings takes each timing from the environment unless its flag was
// set explicitly.
func (o *FillOptions) applyTimings(cmd *cobra.Command, env config.Autosave) {
	if !cmd.Flags().Changed("debounce") {
		o.Debounce = env.Debounce
	}
	if !cmd.Flags().Changed("saved-display") {
		o.SavedDisplay = env.SavedDisplay
	}
	if !cmd.Flags().Changed("save-timeout") {
		o.SaveTimeout = env.SaveTimeout
	}
}

func (o *FillOptions) token() (string, error) {
	if o.Token != "" {
		return o.Token, nil
	}
	if o.Secret == "" || o.User == "" {
		return "", errors.New("either --token or both --secret and --user are required")
	}
	return middleware.IssueToken(o.Secret, o.User, 24*time.Hour)
}

func openDocument(ctx context.Context, client *saverpc.Client, id string) (*model.Document, error) {
	if id == "" {
		return client.Create(ctx, nil)
	}
	return client.Load(ctx, id)
}

func applyScript(session *autosave.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read edit script: %w", err)
	}
	var script EditScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return fmt.Errorf("parse edit script %s: %w", path, err)
	}

	for _, edit := range script.Edits {
		keys := make([]string, 0, len(edit))
		for k := range edit {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := session.SetField(k, edit[k]); err != nil {
				return fmt.Errorf("edit %s: %w", k, err)
			}
		}
	}
	return nil
}

func runREPL(session *autosave.Session, in io.Reader, out *syncWriter) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line, err := parseLine(scanner.Text())
		if err != nil {
			out.Println("error:", err)
			continue
		}

		switch line.Command {
		case "":
			if line.Key == "" {
				continue
			}
			if err := session.SetField(line.Key, line.Value); err != nil {
				out.Println("error:", err)
			}
		case "quit":
			return nil
		case "state":
			out.Println(formatState(session.State()))
		case "dump":
			out.Println(litter.Sdump(session.State(), session.Answers()))
		case "retry":
			if err := session.Retry(); err != nil {
				out.Println("error:", err)
			}
		case "resolve":
			if err := session.ResolveConflict(line.Arg == "latest"); err != nil {
				out.Println("error:", err)
			}
		}
	}
	return scanner.Err()
}

// Line is one parsed input line: an edit (Key, Value) or a Command with an
// optional Arg. A blank line has neither.
type Line struct {
	Key     string
	Value   any
	Command string
	Arg     string
}

func parseLine(raw string) (Line, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Line{}, nil
	}

	if strings.HasPrefix(text, ":") {
		fields := strings.Fields(text[1:])
		if len(fields) == 0 {
			return Line{}, errors.New("empty command")
		}
		l := Line{Command: fields[0]}
		if len(fields) > 1 {
			l.Arg = fields[1]
		}
		switch l.Command {
		case "quit", "state", "dump", "retry":
		case "resolve":
			if l.Arg != "latest" && l.Arg != "local" {
				return Line{}, errors.New("usage: :resolve latest|local")
			}
		default:
			return Line{}, fmt.Errorf("unknown command :%s", l.Command)
		}
		return l, nil
	}

	key, value, ok := strings.Cut(text, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return Line{}, fmt.Errorf("expected key=value, got %q", text)
	}
	return Line{Key: key, Value: parseValue(strings.TrimSpace(value))}, nil
}

// parseValue reads JSON literals (numbers, booleans, null, arrays, objects,
// quoted strings); anything else is taken as a plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func formatState(st autosave.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] version %d", st.Status, st.Version)
	if st.Dirty {
		b.WriteString(" (unsaved edits)")
	}
	if st.Message != "" {
		fmt.Fprintf(&b, ": %s", st.Message)
	}
	if st.Conflict != nil {
		fmt.Fprintf(&b, ": server has version %d from %s, use :resolve latest|local",
			st.Conflict.LatestVersion, st.Conflict.LatestUpdatedAt.Format(time.RFC3339))
	}
	return b.String()
}

func watchVersions(ctx context.Context, client *saverpc.Client, docID string, out *syncWriter) {
	wsURL, err := client.WatchURL(docID)
	if err != nil {
		out.Println("watch:", err)
		return
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		out.Println("watch:", err)
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg struct {
			Type    string             `json:"type"`
			Payload model.VersionEvent `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		out.Printf("server now at version %d (%s)\n", msg.Payload.Version, msg.Payload.UpdatedAt.Format(time.RFC3339))
	}
}

// syncWriter serializes output from the REPL, the session observer and the
// version watcher.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Println(a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, a...)
}

func (s *syncWriter) Printf(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, a...)
}
