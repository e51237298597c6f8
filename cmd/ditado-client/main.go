package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
)

const usage = `usage: ditado-client [flags] <command> [args]

commands:
  toggle        start recording, or stop and transcribe
  say <text>    synthesize text and play it on the server
  cancel        cancel the running workflow
  state         print the current UI state
  history [n]   list the last n workflows
  show <id>     print one workflow
  watch         stream UI events until interrupted

flags:
`

func main() {
	serverURL := flag.String("server", envOr("DITADO_SERVER", "http://localhost:8080"), "server base URL")
	token := flag.String("token", os.Getenv("DITADO_TOKEN"), "bearer token")
	clientID := flag.String("client-id", os.Getenv("DITADO_CLIENT_ID"), "client id used to obtain a token")
	clientSecret := flag.String("client-secret", os.Getenv("DITADO_CLIENT_SECRET"), "client secret used to obtain a token")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := NewClient(*serverURL, *token)
	if client.token == "" && *clientID != "" {
		if err := client.Login(ctx, *clientID, *clientSecret); err != nil {
			log.Fatalf("Failed to authenticate: %v", err)
		}
	}

	if err := runCommand(ctx, client, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func runCommand(ctx context.Context, client *Client, command string, args []string) error {
	var (
		result interface{}
		err    error
	)

	switch command {
	case "toggle":
		result, err = client.Post(ctx, "/api/v1/record/toggle", nil)
	case "say":
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("text is required")
		}
		result, err = client.Post(ctx, "/api/v1/synthesize", map[string]string{"text": text})
	case "cancel":
		result, err = client.Post(ctx, "/api/v1/workflow/cancel", nil)
	case "state":
		result, err = client.Get(ctx, "/api/v1/state")
	case "history":
		path := "/api/v1/history"
		if len(args) > 0 {
			if _, convErr := strconv.Atoi(args[0]); convErr != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			path += "?limit=" + args[0]
		}
		result, err = client.Get(ctx, path)
	case "show":
		if len(args) == 0 {
			return fmt.Errorf("workflow id is required")
		}
		result, err = client.Get(ctx, "/api/v1/history/"+args[0])
	case "watch":
		return client.Watch(ctx, os.Stdout)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
