// Command vodchat attaches to a running mpv instance over its JSON IPC socket
// and replays Twitch chat in the terminal, synchronized to playback. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to the mpv socket and observes the loaded path.
//   - For a Twitch VOD, streams archived chat through a playback-paced buffer
//     and printer; for a live twitch.tv channel it joins IRC instead.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/vodchat/chatbuf"
	"github.com/onnwee/vodchat/config"
	"github.com/onnwee/vodchat/live"
	"github.com/onnwee/vodchat/mpv"
	"github.com/onnwee/vodchat/printer"
	"github.com/onnwee/vodchat/render"
	"github.com/onnwee/vodchat/server"
	"github.com/onnwee/vodchat/telemetry"
	"github.com/onnwee/vodchat/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("vodchat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	rend := render.New(cfg.Background, cfg.NerdFonts)

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	player := mpv.New(cfg.MPVSocket, true)
	player.Connect()

	mgr := &sessionManager{cfg: cfg, rend: rend, player: player}

	// Path changes arrive on the IPC read goroutine; hand them to a dedicated
	// goroutine so session switching can issue IPC calls of its own.
	paths := make(chan string, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range paths {
			mgr.switchTo(path)
		}
	}()

	unobserve, err := player.Observe("path", func(value any) {
		path, _ := value.(string)
		paths <- path
	}, true)
	if err != nil {
		slog.Error("observing player path failed", slog.Any("err", err))
	}

	// HTTP server (health/status/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8642"
	}
	go func() {
		if err := server.Start(ctx, addr, mgr.status); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")

	if unobserve != nil {
		unobserve()
	}
	close(paths)
	wg.Wait()
	mgr.switchTo("")
	player.Stop()
	player.Wait()
}

// sessionManager owns at most one chat session (replay or live) and swaps it
// out when the player loads a different path.
type sessionManager struct {
	cfg    *config.Config
	rend   *render.Renderer
	player *mpv.Conn

	mu   sync.Mutex
	path string
	mode string
	buf  *chatbuf.Buffer
	pr   *printer.Printer
	stop func()
}

// switchTo tears down the current session and starts whichever kind the new
// path calls for. An empty path (player idle, or shutdown) just tears down.
func (m *sessionManager) switchTo(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == m.path {
		return
	}
	if m.stop != nil {
		m.stop()
		m.stop = nil
		m.buf = nil
		m.pr = nil
		m.mode = "idle"
	}
	m.path = path
	if path == "" {
		return
	}

	if vodID, ok := twitchapi.VODID(path); ok {
		m.startReplay(path, vodID)
		return
	}
	if login, ok := twitchapi.ChannelLogin(path); ok {
		m.startLive(login)
		return
	}
	slog.Info("no chat for current path", slog.String("path", path))
}

func (m *sessionManager) startReplay(path, vodID string) {
	if err := m.cfg.ValidateReplayReady(); err != nil {
		slog.Warn("chat replay unavailable", slog.Any("err", err), slog.String("vod", vodID))
		return
	}
	pos := 0.0
	if v, err := m.player.Call("get_property", "playback-time"); err != nil {
		slog.Warn("reading playback position failed, starting from zero", slog.Any("err", err))
	} else if f, ok := v.(float64); ok {
		pos = f
	}

	source := &twitchapi.VODSource{
		Client: &twitchapi.CommentsClient{ClientID: m.cfg.TwitchClientID},
		VODID:  vodID,
	}
	buf := chatbuf.New(source, m.rend, int(pos), chatbuf.Options{
		LoadMoreThreshold: m.cfg.LoadMoreThreshold,
		KeepBehind:        m.cfg.KeepBehind,
		LoadAhead:         m.cfg.LoadAhead,
	})
	pr := printer.New(m.player, buf, m.rend, printer.Options{
		SyncInterval:  m.cfg.SyncInterval,
		MaxCorrection: m.cfg.MaxCorrection,
	})
	buf.Start()
	pr.Start()
	slog.Info("chat replay started", slog.String("vod", vodID), slog.Float64("position", pos))

	m.buf = buf
	m.pr = pr
	m.mode = "replay"
	m.stop = func() {
		// Signal both before waiting: the printer may be blocked inside a
		// buffer Get, which only a stopping buffer will release.
		pr.Stop()
		buf.Stop()
		pr.Wait()
		buf.Wait()
	}
}

func (m *sessionManager) startLive(login string) {
	lp := live.New(login, m.rend, nil)
	lp.Start()
	slog.Info("live chat started", slog.String("channel", login))

	m.mode = "live"
	m.stop = func() {
		lp.Stop()
		lp.Wait()
	}
}

func (m *sessionManager) status() server.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := server.Status{Path: m.path, Mode: m.mode}
	if st.Mode == "" {
		st.Mode = "idle"
	}
	if m.buf != nil {
		stats := m.buf.Stats()
		st.Buffer = &stats
	}
	if m.pr != nil {
		st.Position = m.pr.Position()
	}
	return st
}
