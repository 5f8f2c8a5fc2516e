package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/streamchat/internal/backend/goodgame"
	"github.com/vovakirdan/streamchat/internal/backend/twitch"
	"github.com/vovakirdan/streamchat/internal/chat"
	"github.com/vovakirdan/streamchat/internal/config"
	"github.com/vovakirdan/streamchat/internal/log"
	"github.com/vovakirdan/streamchat/internal/status"
	"github.com/vovakirdan/streamchat/internal/transport/ws"
)

const authPollInterval = 50 * time.Millisecond

// App wires a chat session to its backend, the terminal and the status endpoint.
type App struct {
	cfg        config.Config
	uri        string
	backend    chat.Backend
	parse      func(string) (chat.Channel, error)
	session    *chat.Session
	credential *chat.StaticCredential
	server     *stdhttp.Server
	log        *zerolog.Logger

	in  io.Reader
	out io.Writer
	mu  sync.Mutex // guards out
}

// New constructs the application with provided configuration. Lines read from in are sent
// to the chat; incoming messages are written to out.
func New(cfg *config.Config, logger *zerolog.Logger, in io.Reader, out io.Writer) (*App, error) {
	logger = log.OrNop(logger)
	a := &App{
		cfg: *cfg,
		uri: cfg.URI,
		log: logger,
		in:  in,
		out: out,
	}

	switch cfg.Backend {
	case twitch.Name:
		if cfg.Token == "" || cfg.User == "" {
			return nil, errors.New("twitch needs both user and token")
		}
		a.backend = twitch.New()
		a.parse = func(s string) (chat.Channel, error) {
			ch := twitch.Channel(s)
			if ch.IsZero() {
				return ch, chat.ErrInvalidChannel
			}
			return ch, nil
		}
		if a.uri == "" {
			a.uri = twitch.DefaultURI
		}
	case goodgame.Name:
		a.backend = goodgame.New()
		a.parse = chat.ParseChannel
		if a.uri == "" {
			a.uri = goodgame.DefaultURI
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if cfg.Token != "" {
		a.credential = chat.NewCredential(cfg.User, []byte(cfg.Token))
		if exp, ok := a.credential.ExpiresAt(); ok {
			logger.Debug().Time("expires_at", exp).Msg("token expiry")
		}
	}

	transport := ws.New(ws.Options{
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         logger,
	})
	a.session = chat.NewSession(transport, a.backend, chat.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		RejoinDelay:       cfg.RejoinDelay,
		RejoinAfterAuth:   cfg.RejoinAfterAuth,
		AuthTimeout:       cfg.AuthTimeout,
		Logger:            logger,
	})

	if cfg.StatusAddr != "" {
		a.server = status.NewServer(a.backend.Name(), a.session, status.Config{
			Addr:              cfg.StatusAddr,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}, logger)
	}

	return a, nil
}

// Session returns the chat session.
func (a *App) Session() *chat.Session {
	return a.session
}

// Run connects, joins the configured channels and serves input until ctx is cancelled or
// the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := a.session.Subscribe(a.onEvent)
	defer unsubscribe()

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.log.Info().Str("addr", a.server.Addr).Msg("status endpoint listening")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var cred chat.Credential
	if a.credential != nil {
		cred = a.credential
	}
	if err := a.session.Connect(ctx, a.uri, cred); err != nil {
		a.log.Warn().Err(err).Msg("initial connect failed, retrying in background")
	}

	go a.joinConfigured(ctx)
	go a.readInput(ctx, cancel)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if a.server != nil {
		a.log.Info().Msg("shutting down status endpoint")
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("status endpoint shutdown")
		}
	}
	if err := a.session.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("close session")
	}
	a.session.Dispose()
	if a.credential != nil {
		a.credential.Wipe()
	}
}

// joinConfigured joins the configured channels once the first authorization succeeds.
// Later reconnects are resynchronized by the session itself.
func (a *App) joinConfigured(ctx context.Context) {
	if len(a.cfg.Channels) == 0 {
		return
	}

	ticker := time.NewTicker(authPollInterval)
	defer ticker.Stop()
	for !a.session.IsAuthorized() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	for _, raw := range a.cfg.Channels {
		ch, err := a.parse(raw)
		if err != nil {
			a.log.Warn().Err(err).Str("channel", raw).Msg("skipping channel")
			continue
		}
		if err := a.session.JoinChannel(ctx, ch); err != nil {
			a.log.Debug().Err(err).Stringer("channel", ch).Msg("join")
		}
	}
}

func (a *App) readInput(ctx context.Context, quit context.CancelFunc) {
	if a.in == nil {
		return
	}
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if a.handleLine(ctx, scanner.Text()) {
			quit()
			return
		}
	}
	if err := scanner.Err(); err != nil {
		a.log.Warn().Err(err).Msg("read input")
	}
}

// handleLine runs one input line and reports whether the user asked to quit.
func (a *App) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit":
		return true
	case "/join", "/part", "/history":
		var ch chat.Channel
		if ch, err = a.parse(arg); err != nil {
			break
		}
		switch cmd {
		case "/join":
			err = a.session.JoinChannel(ctx, ch)
		case "/part":
			err = a.session.UnJoinChannel(ctx, ch)
		default:
			err = a.requestHistory(ctx, ch)
		}
	default:
		err = a.session.SendMessage(ctx, line)
	}

	var cerr *chat.ChatError
	if err != nil && !errors.As(err, &cerr) {
		// ChatErrors were already reported through the event stream.
		a.log.Warn().Err(err).Str("command", cmd).Msg("command failed")
	}
	return false
}

func (a *App) requestHistory(ctx context.Context, ch chat.Channel) error {
	gg, ok := a.backend.(*goodgame.Backend)
	if !ok {
		return fmt.Errorf("%s has no history command", a.backend.Name())
	}
	return gg.RequestHistory(ctx, a.session, ch, 0)
}

func (a *App) onEvent(ev chat.Event) {
	switch ev.Kind {
	case chat.EventConnected:
		a.log.Info().Str("uri", a.uri).Msg("connected")
	case chat.EventClose:
		a.log.Info().Str("reason", ev.Reason).Msg("disconnected")
	case chat.EventError:
		a.log.Warn().Stringer("code", ev.Error.Code).Msg(ev.Error.Message)
	case chat.EventMessage:
		a.print(ev.Message)
	case chat.EventHistory:
		for _, msg := range ev.Messages {
			a.print(msg)
		}
	}
}

func (a *App) print(msg chat.Message) {
	label := msg.Channel.Name()
	if label == "" {
		label = msg.Channel.String()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintf(a.out, "%s [%s] %s: %s\n", msg.CreatedAt.Format(time.TimeOnly), label, msg.UserName, msg.Text)
}
