// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/poiesic/recall"
	"github.com/poiesic/recall/config"
	"github.com/poiesic/recall/core"
	"github.com/poiesic/recall/search"
	"github.com/poiesic/recall/server"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "recall",
		Usage: "Hybrid search over a personal conversational archive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   config.DefaultPath(),
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the corpus database directory (overrides config)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest messages from a JSONL export",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the JSONL export file",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project to assign to messages lacking one",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search the archive (empty terms browse by recency)",
				ArgsUsage: "[terms...]",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "role", Usage: "Filter by role (user, assistant, system, other)"},
					&cli.StringFlag{Name: "project", Usage: "Filter by project (exact match)"},
					&cli.StringFlag{Name: "since", Usage: "Lower time bound (2006-01-02, RFC 3339, or unix seconds)"},
					&cli.StringFlag{Name: "until", Usage: "Upper time bound (inclusive)"},
					&cli.IntFlag{Name: "top", Aliases: []string{"k"}, Usage: "Maximum number of results"},
					&cli.BoolFlag{Name: "group", Aliases: []string{"g"}, Usage: "Group results by conversation"},
					&cli.IntFlag{Name: "convos", Usage: "Maximum conversations when grouping"},
					&cli.IntFlag{Name: "per-convo", Usage: "Maximum hits per conversation when grouping"},
					&cli.BoolFlag{Name: "json", Usage: "Print raw JSON instead of formatted output"},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API server",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides config)",
					},
					&cli.DurationFlag{
						Name:  "refresh-interval",
						Usage: "How often to rebuild the search indexes",
						Value: 5 * time.Minute,
					},
				},
			},
			{
				Name:   "backfill",
				Usage:  "Embed stored messages that still lack a vector",
				Action: backfillCommand,
			},
			{
				Name:   "log",
				Usage:  "Show recent activity ledger entries",
				Action: logCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of entries",
						Value: 20,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}

func openDatabase(c *cli.Context) (*recall.Database, config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, config.Config{}, err
	}
	if db := c.String("db"); db != "" {
		cfg.Database.Path = db
	}

	database, err := recall.Open(cfg)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to open database: %w", err)
	}
	return database, cfg, nil
}

// exportLine is one JSONL record of a conversation export.
type exportLine struct {
	ConversationId string `json:"conversation_id"`
	Role           string `json:"role"`
	Project        string `json:"project"`
	Timestamp      string `json:"timestamp"`
	Text           string `json:"text"`
}

func ingestCommand(c *cli.Context) error {
	database, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	file, err := os.Open(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer file.Close()

	defaultProject := c.String("project")
	var msgs []*core.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var line exportLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		msg, err := messageFromExport(line, defaultProject)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}

	pipeline, err := database.NewIngestionPipeline()
	if err != nil {
		return err
	}
	defer pipeline.Release()

	recorder, err := database.NewLedgerRecorder()
	if err != nil {
		return err
	}

	ctx := c.Context
	params := map[string]string{"file": c.String("file"), "lines": strconv.Itoa(len(msgs))}
	var stats *ingestionStats
	err = recorder.Record(ctx, "ingest", params, func(ctx context.Context) error {
		s, ingestErr := pipeline.Ingest(ctx, msgs)
		if s != nil {
			stats = &ingestionStats{Stored: s.Stored, Skipped: s.Skipped, Embedded: s.Embedded, EmbedFailed: s.EmbedFailed}
		}
		return ingestErr
	})
	if err != nil {
		return err
	}

	total, err := database.MessageRepository().CountMessages(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("stored %d, skipped %d, embedded %d, embed failed %d (corpus now %d messages)\n",
		stats.Stored, stats.Skipped, stats.Embedded, stats.EmbedFailed, total)
	return nil
}

type ingestionStats struct {
	Stored, Skipped, Embedded, EmbedFailed int
}

func messageFromExport(line exportLine, defaultProject string) (*core.Message, error) {
	if line.ConversationId == "" {
		return nil, errors.New("missing conversation_id")
	}
	ts, err := parseExportTime(line.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q", line.Timestamp)
	}
	role, err := core.ParseRole(line.Role)
	if err != nil {
		return nil, err
	}
	project := line.Project
	if project == "" {
		project = defaultProject
	}

	// Stable id: re-ingesting the same export is a no-op.
	id := core.IDFromContent(line.ConversationId + "\x00" + line.Timestamp + "\x00" + line.Role + "\x00" + line.Text)
	return &core.Message{
		Id:             id,
		ConversationId: core.IDFromContent(line.ConversationId),
		Role:           role,
		Project:        project,
		Timestamp:      ts,
		Text:           line.Text,
	}, nil
}

func parseExportTime(value string) (time.Time, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized time format")
}

func searchCommand(c *cli.Context) error {
	database, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	engine, err := database.NewSearchEngine()
	if err != nil {
		return err
	}
	if err := engine.Refresh(c.Context); err != nil {
		return err
	}

	req := search.Request{
		Terms:    strings.Join(c.Args().Slice(), " "),
		Role:     c.String("role"),
		Project:  c.String("project"),
		Since:    c.String("since"),
		Until:    c.String("until"),
		TopK:     c.Int("top"),
		Convos:   c.Int("convos"),
		PerConvo: c.Int("per-convo"),
	}

	if c.Bool("group") {
		result, err := engine.SearchGrouped(c.Context, req)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		printGrouped(result)
		return nil
	}

	result, err := engine.Search(c.Context, req)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	printFlat(result)
	return nil
}

var (
	scoreColor   = color.New(color.FgGreen, color.Bold).SprintFunc()
	metaColor    = color.New(color.FgCyan).SprintFunc()
	titleColor   = color.New(color.FgYellow, color.Bold).SprintFunc()
	warningColor = color.New(color.FgRed).SprintFunc()
)

func printFlat(result *search.Result) {
	for _, warning := range result.Warnings {
		fmt.Println(warningColor("warning: " + warning))
	}
	if len(result.Hits) == 0 {
		fmt.Println("no matches")
		return
	}

	for i, hit := range result.Hits {
		printHit(i+1, hit)
	}
	fmt.Printf("\n%d hits (lexical %d, semantic %d)\n",
		result.Counts.Merged, result.Counts.Lexical, result.Counts.Semantic)
}

func printGrouped(result *search.GroupedResult) {
	for _, warning := range result.Warnings {
		fmt.Println(warningColor("warning: " + warning))
	}
	if len(result.Groups) == 0 {
		fmt.Println("no matches")
		return
	}

	for _, group := range result.Groups {
		title := group.Conversation.Title
		if title == "" {
			title = fmt.Sprintf("conversation %d", group.Conversation.Id)
		}
		fmt.Printf("%s (%d messages)\n", titleColor(title), group.Conversation.MessageCount)
		for i, hit := range group.Hits {
			printHit(i+1, hit)
		}
		fmt.Println()
	}
}

func printHit(rank int, hit search.Hit) {
	m := hit.Message
	signals := make([]string, 0, 2)
	if hit.HasLexical {
		signals = append(signals, fmt.Sprintf("lex %.3f", hit.LexicalScore))
	}
	if hit.HasSemantic {
		signals = append(signals, fmt.Sprintf("sem %.3f", hit.SemanticScore))
	}
	meta := fmt.Sprintf("%s %s id=%d", m.Timestamp.Format("2006-01-02 15:04"), m.Role, m.Id)
	if m.Project != "" {
		meta += " project=" + m.Project
	}
	if len(signals) > 0 {
		meta += " (" + strings.Join(signals, ", ") + ")"
	}
	fmt.Printf("%2d. %s %s\n    %s\n", rank, scoreColor(fmt.Sprintf("%.3f", hit.Score)), metaColor(meta), m.Text)
}

func serveCommand(c *cli.Context) error {
	database, cfg, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	engine, err := database.NewSearchEngine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Search.SnapshotPath != "" {
		if err := engine.LoadLexicalSnapshot(); err != nil {
			slog.Debug("no usable lexical snapshot, waiting for first refresh", "err", err)
		}
	}
	if err := engine.Refresh(ctx); err != nil {
		return err
	}

	// Periodic rebuild keeps the indexes trailing the corpus.
	interval := c.Duration("refresh-interval")
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := engine.Refresh(ctx); err != nil {
						slog.Error("periodic index refresh failed", "err", err)
					}
				}
			}
		}()
	}

	recorder, err := database.NewLedgerRecorder()
	if err != nil {
		return err
	}
	srv, err := server.NewServer(engine, recorder)
	if err != nil {
		return err
	}

	addr := cfg.HTTP.Addr
	if v := c.String("addr"); v != "" {
		addr = v
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func backfillCommand(c *cli.Context) error {
	database, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	pipeline, err := database.NewIngestionPipeline()
	if err != nil {
		return err
	}
	defer pipeline.Release()

	recorder, err := database.NewLedgerRecorder()
	if err != nil {
		return err
	}

	var embedded, failed int
	err = recorder.Record(c.Context, "backfill", nil, func(ctx context.Context) error {
		stats, backfillErr := pipeline.Backfill(ctx)
		if stats != nil {
			embedded, failed = stats.Embedded, stats.EmbedFailed
		}
		return backfillErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("embedded %d, failed %d\n", embedded, failed)
	return nil
}

func logCommand(c *cli.Context) error {
	database, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	recorder, err := database.NewLedgerRecorder()
	if err != nil {
		return err
	}

	events, err := recorder.Recent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no activity recorded")
		return nil
	}

	for _, event := range events {
		status := scoreColor(event.Status)
		if event.Status != "ok" {
			status = warningColor(event.Status)
		}
		fmt.Printf("%s %-10s %s %.2fs", event.StartedAt.Format("2006-01-02 15:04:05"), event.Kind, status, event.Seconds)
		for k, v := range event.Params {
			fmt.Printf(" %s=%s", k, v)
		}
		if event.Error != "" {
			fmt.Printf(" error=%q", event.Error)
		}
		fmt.Println()
	}
	return nil
}
