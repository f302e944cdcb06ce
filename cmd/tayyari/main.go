package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/tayyari/internal/chat"
	"github.com/pavelanni/tayyari/internal/gateway"
	"github.com/pavelanni/tayyari/internal/handler"
	appI18n "github.com/pavelanni/tayyari/internal/i18n"
	"github.com/pavelanni/tayyari/internal/llm"
	"github.com/pavelanni/tayyari/internal/llm/prompts"
	"github.com/pavelanni/tayyari/internal/model"
	"github.com/pavelanni/tayyari/internal/store"
	"github.com/pavelanni/tayyari/internal/translate"
)

// contentBackend serves the chat and the speech endpoints.
type contentBackend interface {
	chat.ContentGateway
	handler.Speech
}

func main() {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tayyari",
		Short: "Learning chat service: explanations, quizzes and translation",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `tayyari --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStorageFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("storage", "sqlite", "Storage backend (sqlite, redis, memory)")
	f.String("db", "tayyari.db", "SQLite database path")
	f.String("redis-addr", "localhost:6379", "Redis address")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStorageFlags(cmd)
	f.String("content-backend", "http", "Content backend (http, llm)")
	f.String("content-url", gateway.DefaultContentURL, "Content processing service base URL")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL (content-backend llm)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("stt-model", "whisper-1", "Speech-to-text model name")
	f.String("tts-model", "tts-1", "Text-to-speech model name")
	f.String("tts-voice", "alloy", "Text-to-speech voice")
	f.String("unsplash-url", gateway.DefaultUnsplashURL, "Image search API base URL")
	f.String("unsplash-key", "", "Image search access key (or set TAYYARI_UNSPLASH_KEY)")
	f.String("translate-url", gateway.DefaultTranslateURL, "Translation API base URL")
	f.Int("translate-chunk-size", translate.DefaultChunkSize, "Maximum characters per translation request")
	f.Duration("translate-delay", translate.DefaultDelay, "Pause between translation requests")
	f.Duration("autosave-delay", 2*time.Second, "Idle time before a conversation snapshot is saved")
	f.Int("recent-limit", 3, "Number of recent conversations listed")
	f.Duration("request-timeout", 60*time.Second, "Timeout for one upstream call")
	f.Duration("session-idle-ttl", 30*time.Minute, "Idle time before a live session is dropped from memory (0 keeps them)")
	f.StringP("lang", "l", "en", "Default language for fallback messages (en, es)")
	f.StringSlice("allowed-origins", []string{"http://localhost:3000"}, "Origins allowed to call the API (CORS)")
	f.Bool("secure-cookies", true, "Set Secure flag on the client cookie")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the conversations of one client as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addStorageFlags(cmd)
	f.String("client", "", "Client identifier (value of the tayyari_client cookie, required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("client")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TAYYARI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tayyari")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tayyari")
	v.AddConfigPath("/etc/tayyari")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openKV opens the storage backend selected by --storage.
func openKV(v *viper.Viper) (store.KV, error) {
	switch backend := strings.ToLower(v.GetString("storage")); backend {
	case "sqlite", "":
		return store.NewSQLite(v.GetString("db"))
	case "redis":
		return store.NewRedis(store.RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			Prefix:   "tayyari:",
		})
	case "memory":
		slog.Warn("using in-memory storage; conversations are lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// newContentBackend builds the backend selected by --content-backend.
func newContentBackend(v *viper.Viper, gw *gateway.Client) (contentBackend, error) {
	switch backend := strings.ToLower(v.GetString("content-backend")); backend {
	case "http", "":
		return gw, nil
	case "llm":
		if err := prompts.Load(prompts.FS); err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		return llm.New(llm.Config{
			BaseURL:            v.GetString("llm-url"),
			APIKey:             v.GetString("llm-key"),
			Model:              v.GetString("llm-model"),
			TranscriptionModel: v.GetString("stt-model"),
			SpeechModel:        v.GetString("tts-model"),
			Voice:              v.GetString("tts-voice"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown content backend %q", backend)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	cfg := model.ServiceConfig{
		Addr:            v.GetString("addr"),
		RecentLimit:     v.GetInt("recent-limit"),
		AutosaveDelay:   v.GetDuration("autosave-delay"),
		TranslateChunk:  v.GetInt("translate-chunk-size"),
		TranslateDelay:  v.GetDuration("translate-delay"),
		RequestTimeout:  v.GetDuration("request-timeout"),
		SessionIdleTTL:  v.GetDuration("session-idle-ttl"),
		AllowedOrigins:  v.GetStringSlice("allowed-origins"),
		SecureCookies:   v.GetBool("secure-cookies"),
		DefaultLanguage: v.GetString("lang"),
	}

	kv, err := openKV(v)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()

	if err := appI18n.Init(cfg.DefaultLanguage); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	gw := gateway.New(gateway.Config{
		ContentURL:   v.GetString("content-url"),
		UnsplashURL:  v.GetString("unsplash-url"),
		UnsplashKey:  v.GetString("unsplash-key"),
		TranslateURL: v.GetString("translate-url"),
		HTTPClient:   &http.Client{Timeout: cfg.RequestTimeout},
	})
	if v.GetString("unsplash-key") == "" {
		slog.Warn("no image search key configured; /api/search-image will fail")
	}

	content, err := newContentBackend(v, gw)
	if err != nil {
		return err
	}

	translator := translate.New(gw)
	translator.ChunkSize = cfg.TranslateChunk
	translator.Delay = cfg.TranslateDelay

	registry := chat.NewRegistry(kv, content, cfg.AutosaveDelay)
	h := handler.New(registry, gw, translator, content, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.DefaultLanguage))
	h.Routes(r)

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go registry.RunEviction(ctx, time.Minute, cfg.SessionIdleTTL)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", cfg.Addr,
			"storage", v.GetString("storage"),
			"content_backend", v.GetString("content-backend"),
			"lang", cfg.DefaultLanguage,
			"autosave_delay", cfg.AutosaveDelay,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Write snapshots that were still waiting for their idle delay.
	registry.FlushAll()
	slog.Info("server stopped")
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	kv, err := openKV(v)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()

	st := store.NewConversationStore(kv, v.GetString("client"))
	export := st.Export(context.Background())

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	slog.Info("exported conversations", "client", export.ClientID, "count", len(export.Conversations))
	return nil
}
