// Command querywatch is the interactive terminal client: a readline REPL
// that logs into a querywatchd server and drives it through the same
// add/edit/delete/scan/save actions the HTTP API exposes, following the
// chzyer/readline REPL pattern the hazyhaar-GoClode example repo's
// internal/ui.Chat uses for its own conversational loop.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/dmagro/querywatch/internal/monitor"
	"github.com/dmagro/querywatch/internal/terminal"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var server, username, password string

	cmd := &cobra.Command{
		Use:   "querywatch",
		Short: "Interactive client for a querywatch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(server, username, password)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8443", "querywatchd base URL")
	cmd.Flags().StringVar(&username, "username", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted if omitted)")
	return cmd
}

// client holds one authenticated session against a querywatchd server.
type client struct {
	http     *http.Client
	baseURL  string
	username string
	token    string
	seen     *terminal.SeenTracker
}

func run(server, username, password string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mquerywatch>\033[0m ",
		HistoryFile:     os.ExpandEnv("$HOME/.querywatch_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("querywatch: %w", err)
	}
	defer rl.Close()

	if username == "" {
		username, err = rl.Readline()
		if err != nil {
			return err
		}
		username = strings.TrimSpace(username)
	}
	if password == "" {
		pw, err := rl.ReadPassword("password: ")
		if err != nil {
			return err
		}
		password = string(pw)
	}

	c := &client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(server, "/"),
		seen:    terminal.NewSeenTracker(),
	}

	ctx := context.Background()
	if err := c.login(ctx, username, password); err != nil {
		return fmt.Errorf("querywatch: %w", err)
	}
	terminal.RenderResult(true, fmt.Sprintf("logged in as %s", username))

	if snapshot, err := c.getDashboard(ctx); err == nil {
		c.seen.MarkAllSeen(foundTargetURLs(snapshot))
	}

	printHelp()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := c.dispatch(ctx, line); err != nil {
			terminal.RenderResult(false, err.Error())
		}
	}
}

func printHelp() {
	fmt.Println(`
commands:
  scan                          run a dashboard scan now
  add <key=value> ...           add a query (url, sequence, interval required)
  edit <uid> <key=value> ...    edit an existing query
  delete <uid>                  delete a query
  list                          show every query's state
  save                          persist the dashboard
  clean                         drop completed, non-recurring queries
  help                          show this message
  exit                          quit
`)
}

func (c *client) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		printHelp()
		return nil
	case "exit", "quit":
		os.Exit(0)
		return nil
	case "scan":
		return c.scan(ctx)
	case "list":
		return c.list(ctx)
	case "add":
		return c.addQuery(ctx, args)
	case "edit":
		return c.editQuery(ctx, args)
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <uid>")
		}
		return c.deleteQuery(ctx, args[0])
	case "save":
		return c.simpleCall(ctx, "/save", nil)
	case "clean":
		return c.simpleCall(ctx, "/clean", nil)
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
}

func (c *client) scan(ctx context.Context) error {
	snapshot, err := c.getDashboard(ctx)
	if err != nil {
		return err
	}
	terminal.RenderDashboard(snapshot)
	for _, targetURL := range foundTargetURLs(snapshot) {
		if c.seen.ShouldNotify(targetURL) {
			terminal.RenderResult(true, "new match: "+targetURL)
		}
	}
	return nil
}

func (c *client) list(ctx context.Context) error {
	var snapshot monitor.Snapshot
	if err := c.post(ctx, "/get_all_queries", envelope{}, &snapshot); err != nil {
		return err
	}
	terminal.RenderDashboard(snapshot)
	return nil
}

func (c *client) addQuery(ctx context.Context, args []string) error {
	params, err := parseKeyValues(args)
	if err != nil {
		return err
	}
	return c.simpleCall(ctx, "/add_query", params)
}

func (c *client) editQuery(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: edit <uid> <key=value> ...")
	}
	params, err := parseKeyValues(args[1:])
	if err != nil {
		return err
	}
	params["uid"] = args[0]
	return c.simpleCall(ctx, "/edit_query", params)
}

func (c *client) deleteQuery(ctx context.Context, uid string) error {
	return c.simpleCall(ctx, "/delete_query", envelope{"uid": uid})
}

func (c *client) simpleCall(ctx context.Context, path string, params envelope) error {
	var out struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
	}
	if err := c.post(ctx, path, params, &out); err != nil {
		return err
	}
	terminal.RenderResult(out.Success, out.Msg)
	return nil
}

func (c *client) getDashboard(ctx context.Context) (monitor.Snapshot, error) {
	var snapshot monitor.Snapshot
	err := c.post(ctx, "/get_dashboard", envelope{}, &snapshot)
	return snapshot, err
}

func (c *client) login(ctx context.Context, username, password string) error {
	var out struct {
		Token       string `json:"token"`
		AuthSuccess bool   `json:"auth_success"`
	}
	body := envelope{"username": username, "password": password}
	if err := c.postRaw(ctx, "/auth", body, &out); err != nil {
		return err
	}
	if !out.AuthSuccess {
		return fmt.Errorf("authentication failed")
	}
	c.username = username
	c.token = out.Token
	return nil
}

type envelope map[string]any

// post attaches this client's username/token to body and decodes the JSON
// response into out, the shape every authenticated endpoint expects.
func (c *client) post(ctx context.Context, path string, body envelope, out any) error {
	if body == nil {
		body = envelope{}
	}
	body["username"] = c.username
	body["token"] = c.token
	return c.postRaw(ctx, path, body, out)
}

func (c *client) postRaw(ctx context.Context, path string, body envelope, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: server returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// parseKeyValues turns ["interval=30", "url=https://example.com"] into a
// params map, coercing values that look like integers or booleans.
func parseKeyValues(args []string) (envelope, error) {
	out := envelope{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("bad argument %q, expected key=value", arg)
		}
		out[k] = coerceValue(v)
	}
	return out, nil
}

func coerceValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return v
}

// foundTargetURLs extracts the target URL of every query currently found,
// the set RenderDashboard's caller uses to decide which matches are new.
func foundTargetURLs(snapshot monitor.Snapshot) []string {
	var out []string
	for _, uid := range snapshot.Order() {
		st, ok := snapshot.Get(uid)
		if ok && st.Found {
			out = append(out, st.TargetURL)
		}
	}
	return out
}
