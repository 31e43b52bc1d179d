// Copyright 2026 The Gameward Authors
// SPDX-License-Identifier: Apache-2.0

// Gamewardctl is the operator CLI for a gameward controller: login,
// instance create/list, and job listing/polling over the control
// surface's HTTP API.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/gameward/gameward/lib/netutil"
	"github.com/gameward/gameward/lib/secret"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "login":
		return runLogin(os.Args[2:])
	case "instance":
		return runInstance(os.Args[2:])
	case "job":
		return runJob(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: gamewardctl <subcommand> [flags]

Subcommands:
  login               Authenticate and print a bearer token
  instance create      Create or attach an instance
  instance list         List instances
  job list                 List jobs
  job get <id>          Show one job

Every subcommand takes --server (default http://127.0.0.1:5000) and,
except login, --token (or the GAMEWARD_TOKEN environment variable).
`)
}

type client struct {
	server string
	token  string
}

func (c *client) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.server+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, netutil.ErrorBody(resp.Body))
	}
	if out == nil {
		return nil
	}
	return netutil.DecodeResponse(resp.Body, out)
}

func runLogin(args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ExitOnError)
	server := flags.String("server", "http://127.0.0.1:5000", "controller address")
	username := flags.String("username", "", "username")
	passwordFile := flags.String("password-file", "", "read the password from this file (or \"-\" for stdin) instead of an interactive prompt, for scripted logins")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	var password string
	if *passwordFile != "" {
		buffer, err := secret.ReadFromPath(*passwordFile)
		if err != nil {
			return fmt.Errorf("reading password from %s: %w", *passwordFile, err)
		}
		password = buffer.String()
		buffer.Close()
	} else {
		read, err := readPassword()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = read
	}

	req, err := http.NewRequest(http.MethodPost, *server+"/", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(*username, password)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("login failed: %s: %s", resp.Status, netutil.ErrorBody(resp.Body))
	}

	var out struct {
		Token string `json:"bearer"`
	}
	if err := netutil.DecodeResponse(resp.Body, &out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Println(out.Token)
	return nil
}

// readPassword reads a password from stdin, masking terminal echo
// when stdin is a terminal and falling back to a plain line read
// otherwise (e.g. when piped in scripts).
func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(bytes), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newClient(flags *pflag.FlagSet) *client {
	server := flags.Lookup("server").Value.String()
	token := flags.Lookup("token").Value.String()
	if token == "" {
		token = os.Getenv("GAMEWARD_TOKEN")
	}
	return &client{server: server, token: token}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("server", "http://127.0.0.1:5000", "controller address")
	flags.String("token", "", "bearer token (defaults to $GAMEWARD_TOKEN)")
}

func runInstance(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("instance subcommand required: create, list")
	}

	switch args[0] {
	case "create":
		flags := pflag.NewFlagSet("instance create", pflag.ExitOnError)
		addCommonFlags(flags)
		name := flags.String("name", "", "instance name")
		path := flags.String("path", "", "instance directory")
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" || *path == "" {
			return fmt.Errorf("--name and --path are required")
		}

		c := newClient(flags)
		var out map[string]any
		if err := c.do(http.MethodPut, "/Instance", map[string]string{"name": *name, "path": *path}, &out); err != nil {
			return err
		}
		return printJSON(out)

	case "list":
		flags := pflag.NewFlagSet("instance list", pflag.ExitOnError)
		addCommonFlags(flags)
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}

		c := newClient(flags)
		var out []map[string]any
		if err := c.do(http.MethodGet, "/Instance/List", nil, &out); err != nil {
			return err
		}
		return printJSON(out)

	default:
		return fmt.Errorf("unknown instance subcommand: %q", args[0])
	}
}

func runJob(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("job subcommand required: list, get")
	}

	switch args[0] {
	case "list":
		flags := pflag.NewFlagSet("job list", pflag.ExitOnError)
		addCommonFlags(flags)
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}

		c := newClient(flags)
		var out []map[string]any
		if err := c.do(http.MethodGet, "/Job/List", nil, &out); err != nil {
			return err
		}
		return printJSON(out)

	case "get":
		flags := pflag.NewFlagSet("job get", pflag.ExitOnError)
		addCommonFlags(flags)
		if err := flags.Parse(args[1:]); err != nil {
			return err
		}
		if flags.NArg() < 1 {
			return fmt.Errorf("job id required")
		}

		c := newClient(flags)
		var out map[string]any
		if err := c.do(http.MethodGet, "/Job/"+flags.Arg(0), nil, &out); err != nil {
			return err
		}
		return printJSON(out)

	default:
		return fmt.Errorf("unknown job subcommand: %q", args[0])
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
