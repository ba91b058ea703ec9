package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jo-hoe/photoqueue/internal/client"
	"github.com/jo-hoe/photoqueue/internal/client/syncer"
	"github.com/jo-hoe/photoqueue/internal/dataurl"
)

const usage = `usage: client [-config file] <command> [args]

commands:
  install          fetch and activate the application shell
  capture <file>   send a photo now, or queue it when offline
  list             show queued and dead-lettered photos
  flush            send every queued photo
  send <id>        send one queued photo
  discard <id>     drop one queued photo
  clear            drop every queued photo
  fetch <path>     load a shell page through the cache
  watch            keep syncing until interrupted
`

func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}
	return filepath.Join(cwd, "client.yaml")
}

func main() {
	configFlag := flag.String("config", "", "client config file (default $CONFIG_PATH or ./client.yaml)")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	configPath := getConfigPath(*configFlag)
	config, err := client.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	c, err := client.Open(config, nil, syncer.LogNotifier{})
	if err != nil {
		slog.Error("failed to open client", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, c, flag.Arg(0), flag.Args()[1:])
	stop()
	if closeErr := c.Close(); closeErr != nil {
		slog.Error("failed to close client", "error", closeErr)
	}
	if err != nil {
		slog.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, command string, args []string) error {
	coordinator := c.Coordinator()

	switch command {
	case "install":
		return c.InstallShell(ctx)
	case "capture":
		if len(args) != 1 {
			return errors.New("capture needs a file")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		payload, err := dataurl.FromImage(data, args[0])
		if err != nil {
			return err
		}
		c.Session.Monitor.Check(ctx)
		record, err := coordinator.Capture(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Println(record.ID)
		return nil
	case "list":
		return list(ctx, c)
	case "flush":
		c.Session.Monitor.Check(ctx)
		return coordinator.Flush(ctx)
	case "send":
		if len(args) != 1 {
			return errors.New("send needs a record id")
		}
		c.Session.Monitor.Check(ctx)
		return coordinator.SendOne(ctx, args[0])
	case "discard":
		if len(args) != 1 {
			return errors.New("discard needs a record id")
		}
		return coordinator.Discard(ctx, args[0])
	case "clear":
		return c.Queue.Clear(ctx)
	case "fetch":
		if len(args) != 1 {
			return errors.New("fetch needs a path")
		}
		return fetch(ctx, c, args[0])
	case "watch":
		return c.Session.Run(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func list(ctx context.Context, c *client.Client) error {
	records, err := c.Queue.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("queue is empty")
	}
	for _, record := range records {
		created := time.UnixMilli(record.CreatedAt).Format(time.RFC3339)
		fmt.Printf("%s\t%s\t%d bytes\n", record.ID, created, len(record.Payload))
	}

	dead, err := c.Queue.ListDeadLetters(ctx)
	if err != nil {
		return err
	}
	for _, letter := range dead {
		fmt.Printf("dead\t%s\t%s\n", letter.Record.ID, letter.Reason)
	}
	return nil
}

func fetch(ctx context.Context, c *client.Client, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.Config.ServerURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
