// Command voxtasks is the voice-driven task manager. It runs an interactive
// prompt: "start" opens a live voice session against the configured realtime
// model, "chat" talks to the text assistant, and the task list is shared
// between both paths.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxtasks/voxtasks/internal/chat"
	"github.com/voxtasks/voxtasks/internal/config"
	"github.com/voxtasks/voxtasks/internal/extract"
	"github.com/voxtasks/voxtasks/internal/notify"
	"github.com/voxtasks/voxtasks/internal/observe"
	"github.com/voxtasks/voxtasks/internal/session"
	"github.com/voxtasks/voxtasks/pkg/audio"
	"github.com/voxtasks/voxtasks/pkg/audio/portaudio"
	"github.com/voxtasks/voxtasks/pkg/provider/live"
	geminilive "github.com/voxtasks/voxtasks/pkg/provider/live/gemini"
	"github.com/voxtasks/voxtasks/pkg/provider/llm/anyllm"
	"github.com/voxtasks/voxtasks/pkg/task"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxtasks: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxtasks: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxtasks starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	// ── Task store ────────────────────────────────────────────────────────────
	var store task.Store
	if dsn := cfg.Tasks.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to create postgres pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := task.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate task schema", "err", err)
			return 1
		}
		store = pg
		slog.Info("task store ready", "backend", "postgres")
	} else {
		store = task.NewMemoryStore()
		slog.Info("task store ready", "backend", "memory")
	}

	// ── Voice session ─────────────────────────────────────────────────────────
	liveKey := cfg.Live.APIKey
	if liveKey == "" {
		liveKey = os.Getenv("GEMINI_API_KEY")
	}

	var liveOpts []geminilive.Option
	if cfg.Live.Model != "" {
		liveOpts = append(liveOpts, geminilive.WithModel(cfg.Live.Model))
	}
	if cfg.Live.BaseURL != "" {
		liveOpts = append(liveOpts, geminilive.WithBaseURL(cfg.Live.BaseURL))
	}

	voiceTools := chat.NewTaskTools(store, task.SourceVoice)
	transcript := &transcriptLog{}

	controller := session.NewController(session.Config{
		Provider: geminilive.New(liveKey, liveOpts...),
		Session: live.SessionConfig{
			Voice:        cfg.Live.Voice,
			Instructions: cfg.Live.Instructions,
			Tools:        voiceTools.Definitions(),
		},
		Devices: session.Devices{
			OpenInput: func() (audio.InputDevice, error) {
				return portaudio.OpenMicrophone(audio.CaptureFormat)
			},
			OpenOutput: func() (audio.OutputDevice, error) {
				return portaudio.OpenSpeaker(audio.PlaybackFormat)
			},
		},
		ToolHandler: voiceTools.Handler(),
		OnTranscript: func(role, text string) {
			transcript.append(role, text)
			fmt.Printf("  [%s] %s\n", role, text)
		},
		OnStatus: func(msg string) {
			fmt.Printf("  * %s\n", msg)
		},
	})
	defer controller.Disconnect()

	// ── Text assistant (optional) ─────────────────────────────────────────────
	var assistant *chat.Assistant
	if cfg.Chat.Provider != "" {
		var opts []anyllmlib.Option
		if cfg.Chat.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Chat.APIKey))
		}
		llmProvider, err := anyllm.New(cfg.Chat.Provider, cfg.Chat.Model, opts...)
		if err != nil {
			slog.Error("failed to create chat provider", "err", err)
			return 1
		}
		assistant = chat.NewAssistant(llmProvider, chat.NewTaskTools(store, task.SourceManual))
		slog.Info("chat assistant ready", "provider", cfg.Chat.Provider, "model", cfg.Chat.Model)
	}

	// ── Transcript extraction (optional) ──────────────────────────────────────
	var extractor *extract.Client
	extractKey := cfg.Extract.APIKey
	if extractKey == "" {
		extractKey = liveKey
	}
	if extractKey != "" {
		var opts []extract.Option
		if cfg.Extract.Model != "" {
			opts = append(opts, extract.WithModel(cfg.Extract.Model))
		}
		if cfg.Extract.BaseURL != "" {
			opts = append(opts, extract.WithBaseURL(cfg.Extract.BaseURL))
		}
		extractor, err = extract.New(extractKey, opts...)
		if err != nil {
			slog.Error("failed to create extractor", "err", err)
			return 1
		}
	}

	// ── Due-task reminders ────────────────────────────────────────────────────
	reminder := notify.NewReminder(store, notify.NewLogNotifier(logger))
	go func() {
		if err := reminder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("reminder loop error", "err", err)
		}
	}()

	// ── Interactive prompt ────────────────────────────────────────────────────
	fmt.Println("voxtasks — type 'help' for commands")
	runPrompt(ctx, promptDeps{
		controller: controller,
		store:      store,
		assistant:  assistant,
		extractor:  extractor,
		transcript: transcript,
	})

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	controller.Disconnect()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

// ── Prompt loop ───────────────────────────────────────────────────────────────

type promptDeps struct {
	controller *session.Controller
	store      task.Store
	assistant  *chat.Assistant
	extractor  *extract.Client
	transcript *transcriptLog
}

// runPrompt reads commands from stdin until EOF, "quit", or ctx cancellation.
func runPrompt(ctx context.Context, deps promptDeps) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
			switch cmd {
			case "":
			case "help":
				printHelp()
			case "start":
				startSession(ctx, deps)
			case "stop":
				stopSession(ctx, deps)
			case "mute":
				deps.controller.SetMuted(true)
				fmt.Println("microphone muted")
			case "unmute":
				deps.controller.SetMuted(false)
				fmt.Println("microphone live")
			case "status":
				fmt.Printf("session: %s\n", deps.controller.State())
			case "tasks":
				printTasks(ctx, deps.store)
			case "chat":
				sendChat(ctx, deps.assistant, rest)
			case "quit", "exit":
				return
			default:
				fmt.Printf("unknown command %q — type 'help'\n", cmd)
			}
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  start        open a voice session
  stop         end the session and extract tasks from the transcript
  mute         discard microphone audio without pausing the session
  unmute       resume sending microphone audio
  status       show the session state
  tasks        list tasks, most urgent first
  chat <text>  ask the text assistant
  quit         exit`)
}

func startSession(ctx context.Context, deps promptDeps) {
	deps.transcript.reset()
	if err := deps.controller.Connect(ctx); err != nil {
		fmt.Printf("connect failed: %v\n", err)
		return
	}
	fmt.Println("session started — speak, or 'mute' / 'stop'")
}

// stopSession ends the voice session and runs transcript extraction so tasks
// mentioned but not captured by live tool calls still make it to the list.
func stopSession(ctx context.Context, deps promptDeps) {
	deps.controller.Disconnect()
	fmt.Println("session ended")

	text := deps.transcript.String()
	if deps.extractor == nil || text == "" {
		return
	}

	extractCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	drafts, err := deps.extractor.ExtractTasks(extractCtx, text)
	if err != nil {
		fmt.Printf("transcript extraction failed: %v\n", err)
		return
	}

	saved := 0
	for _, d := range drafts {
		tk := d.Task()
		if err := deps.store.Create(extractCtx, &tk); err != nil {
			slog.Warn("failed to save extracted task", "title", tk.Title, "err", err)
			continue
		}
		saved++
		fmt.Printf("  + %s (%s)\n", tk.Title, tk.Priority)
	}
	if saved > 0 {
		fmt.Printf("extracted %d task(s) from the transcript\n", saved)
	}
}

func printTasks(ctx context.Context, store task.Store) {
	tasks, err := store.List(ctx, task.Filter{})
	if err != nil {
		fmt.Printf("list failed: %v\n", err)
		return
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return
	}
	for _, t := range tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		line := fmt.Sprintf("[%s] %-8s %s", mark, t.Priority, t.Title)
		if t.DueAt != nil {
			line += " (due " + t.DueAt.Format("2006-01-02 15:04") + ")"
		}
		fmt.Printf("%s  %s\n", line, t.ID)
	}
}

func sendChat(ctx context.Context, assistant *chat.Assistant, text string) {
	if assistant == nil {
		fmt.Println("chat is not configured — set chat.provider and chat.model")
		return
	}
	if text == "" {
		fmt.Println("usage: chat <text>")
		return
	}
	chatCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	reply, err := assistant.Send(chatCtx, text)
	if err != nil {
		fmt.Printf("chat failed: %v\n", err)
		return
	}
	fmt.Println(reply)
}

// ── Transcript log ────────────────────────────────────────────────────────────

// transcriptLog accumulates transcript lines across one voice session.
type transcriptLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *transcriptLog) append(role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, role+": "+text)
}

func (l *transcriptLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
}

func (l *transcriptLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
