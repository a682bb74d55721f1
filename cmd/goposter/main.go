/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"goposter/internal/config"
	"goposter/internal/crash"
	applog "goposter/internal/log"
	"goposter/internal/mcpbridge"
	"goposter/internal/remote"
	"goposter/internal/script"
	"goposter/internal/server"
	"goposter/internal/version"
)

func usage() {
	fmt.Println("GoPoster: headless poster editor")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goposter version|-v|--version            Show version")
	fmt.Println("  goposter serve [-addr host:port]          Serve the editor over HTTP, WebSocket and MCP")
	fmt.Println("  goposter mcp                              Serve the editor as an MCP server on stdio")
	fmt.Println("  goposter script [-open n] [-save n] <f>   Run a Lua script against a fresh editor")
	fmt.Println("  goposter commands                         List editor commands")
	fmt.Println("  goposter call <url> <command> [json]      Call a command on a running editor (http:// or ws://)")
	fmt.Println("  goposter docs [list|rm <n>|revisions <n>] Manage stored documents")
	fmt.Println("  goposter token set <value>|clear|status   Manage the remote token in the OS keychain")
}

func main() {
	applog.Init(applog.FromEnv())
	l := applog.WithComponent("cli")
	ref := &crash.Ref{}
	defer crash.Recover(ref, crash.DefaultDir())

	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) < 2 {
		usage()
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[1] {
	case "version", "--version", "-v":
		fmt.Println("GoPoster")
		fmt.Println(version.String())
		return
	case "serve":
		err = runServe(ctx, ref, args[2:])
	case "mcp":
		err = runMCP(ctx, ref)
	case "script":
		err = runScript(ctx, ref, args[2:])
	case "commands":
		err = runCommands(ctx, ref)
	case "call":
		err = runCall(ctx, args[2:])
	case "docs":
		err = runDocs(ctx, args[2:])
	case "token":
		err = runToken(args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		l.Error("command failed", slog.String("cmd", args[1]), slog.Any("err", err))
		fmt.Println("Error:", err)
		stop()
		os.Exit(1)
	}
}

func runServe(ctx context.Context, ref *crash.Ref, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "", "listen address (default from config)")
	noStore := fs.Bool("no-store", false, "run without document storage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := newApp(ctx, ref, !*noStore)
	if err != nil {
		return err
	}
	defer a.close()
	if *addr == "" {
		*addr = a.cfg.Remote.Addr
	}
	if a.cfg.Remote.RequireToken && a.token == "" {
		return errors.New("remote.require_token is set but no token is stored; run 'goposter token set <value>'")
	}

	opts := server.Options{
		Addr:           *addr,
		AllowedOrigins: a.cfg.Remote.AllowedOrigins,
		Token:          a.token,
		Observer:       a.observe,
		MCP:            mcpbridge.Handler(mcpbridge.NewServer(a.ed.Table(), mcpbridge.WithObserver(a.observe), mcpbridge.Skip("destroy"))),
		Logger:         applog.WithComponent("server"),
	}
	if a.store != nil {
		opts.Ready = a.store
	}
	srv := server.New(a.ed, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error {
		t := time.NewTicker(15 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				a.tel.ReportUsage()
			}
		}
	})
	fmt.Printf("GoPoster editor listening on http://%s\n", *addr)
	return g.Wait()
}

func runMCP(ctx context.Context, ref *crash.Ref) error {
	a, err := newApp(ctx, ref, true)
	if err != nil {
		return err
	}
	defer a.close()
	srv := mcpbridge.NewServer(a.ed.Table(), mcpbridge.WithObserver(a.observe), mcpbridge.Skip("destroy"))
	return mcpbridge.ServeStdio(ctx, srv)
}

func runScript(ctx context.Context, ref *crash.Ref, args []string) error {
	fs := flag.NewFlagSet("script", flag.ContinueOnError)
	open := fs.String("open", "", "stored document to open before the script runs")
	save := fs.String("save", "", "store the result under this name")
	out := fs.String("out", "", "write the resulting document JSON to this file")
	timeout := fs.Duration("timeout", script.DefaultTimeout, "script time limit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("script requires exactly one <file.lua>")
	}
	a, err := newApp(ctx, ref, *open != "" || *save != "")
	if err != nil {
		return err
	}
	defer a.close()

	if *open != "" {
		if _, err := a.ed.OpenDocument(ctx, *open); err != nil {
			return err
		}
	}
	r := script.New(a.ed.Table(), script.Options{Output: os.Stdout, Timeout: *timeout})
	if err := r.RunFile(ctx, fs.Arg(0)); err != nil {
		return err
	}
	if *save != "" {
		info, err := a.ed.SaveDocument(ctx, *save)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%d objects)\n", info.Name, info.Objects)
	}
	if *out != "" {
		data, err := a.ed.ToJSON().Encode()
		if err != nil {
			return err
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func runCommands(ctx context.Context, ref *crash.Ref) error {
	a, err := newApp(ctx, ref, false)
	if err != nil {
		return err
	}
	defer a.close()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, c := range a.ed.Table().Commands() {
		params := make([]string, 0, len(c.Params))
		for _, p := range c.Params {
			s := p.Name + " " + p.Type
			if p.Optional {
				s = "[" + s + "]"
			}
			params = append(params, s)
		}
		_, _ = fmt.Fprintf(tw, "%s(%s)\t%s\n", c.Name, strings.Join(params, ", "), c.Description)
	}
	return tw.Flush()
}

// runCall invokes one command on a running editor. Over ws:// it goes
// through a remote proxy, otherwise through the REST endpoint.
func runCall(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("call requires <url> and <command>")
	}
	cfg, token := loadConfig()
	base, cmd := args[0], args[1]
	data := json.RawMessage("[]")
	if len(args) > 2 {
		data = json.RawMessage(strings.Join(args[2:], " "))
		if !json.Valid(data) {
			return fmt.Errorf("arguments are not valid JSON: %s", data)
		}
	}

	var res json.RawMessage
	var err error
	if strings.HasPrefix(base, "ws://") || strings.HasPrefix(base, "wss://") {
		res, err = callWS(ctx, cfg, token, base, cmd, data)
	} else {
		res, err = server.NewClient(base, token).CallRaw(ctx, cmd, data)
	}
	if err != nil {
		return err
	}
	fmt.Println(string(res))
	return nil
}

func callWS(ctx context.Context, cfg config.AppConfig, token, url, cmd string, data json.RawMessage) (json.RawMessage, error) {
	args, err := remote.SpreadArgs(data)
	if err != nil {
		return nil, err
	}
	if token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + token
	}
	origin := "http://localhost"
	if len(cfg.Remote.AllowedOrigins) > 0 && cfg.Remote.AllowedOrigins[0] != "*" {
		origin = cfg.Remote.AllowedOrigins[0]
	}
	port, err := remote.DialWS(ctx, url, origin, nil)
	if err != nil {
		return nil, err
	}
	p := remote.NewProxy(port, remote.WithTimeout(cfg.Remote.Timeout()))
	defer p.Close()
	callArgs := make([]any, len(args))
	for i, a := range args {
		callArgs[i] = a
	}
	return p.Call(ctx, cmd, callArgs...)
}

func runDocs(ctx context.Context, args []string) error {
	cfg, _ := loadConfig()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		docs, err := st.ListDocuments(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tSIZE\tOBJECTS\tUPDATED")
		for _, d := range docs {
			_, _ = fmt.Fprintf(tw, "%s\t%dx%d\t%d\t%s\n", d.Name, d.Width, d.Height, d.Objects, d.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	case "rm":
		if len(args) < 2 {
			return errors.New("docs rm requires <name>")
		}
		if err := st.DeleteDocument(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("Deleted", args[1])
		return nil
	case "revisions":
		if len(args) < 2 {
			return errors.New("docs revisions requires <name>")
		}
		revs, err := st.Revisions(ctx, args[1], 0)
		if err != nil {
			return err
		}
		for _, r := range revs {
			fmt.Printf("%d\t%d bytes\t%s\n", r.ID, len(r.Body), r.SavedAt.Format(time.RFC3339))
		}
		return nil
	}
	return fmt.Errorf("unknown docs command %q", sub)
}

func runToken(args []string) error {
	if len(args) == 0 {
		return errors.New("token requires set, clear or status")
	}
	switch args[0] {
	case "set":
		if len(args) < 2 {
			return errors.New("token set requires <value>")
		}
		if err := config.SetToken(args[1]); err != nil {
			return err
		}
		fmt.Println("Token stored in the OS keychain.")
		return nil
	case "clear":
		if err := config.ClearToken(); err != nil {
			return err
		}
		fmt.Println("Token removed.")
		return nil
	case "status":
		tok, err := config.Token()
		if err != nil {
			return err
		}
		if tok == "" {
			fmt.Println("No token stored.")
		} else {
			fmt.Println("A token is stored.")
		}
		return nil
	}
	return fmt.Errorf("unknown token command %q", args[0])
}
