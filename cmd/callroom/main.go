package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"callroom/native/internal/api"
	"callroom/native/internal/config"
	"callroom/native/internal/domain"
	"callroom/native/internal/media"
	"callroom/native/internal/session"
	sigclient "callroom/native/internal/signal"
	"callroom/native/internal/webrtc"

	"github.com/gorilla/websocket"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const helpText = `callroom - One-to-one audio calls over WebRTC

Usage:
  callroom create            Create a room and wait for the callee
  callroom join <room>       Join a room by its link or id

Press Enter to hang up. Ctrl-C also ends the call.

Environment Variables:
  CALL_EMAIL                 Your email address (required)
  CALL_API_URL               Room API base (default http://localhost:8080/api)
  CALL_SIGNAL_URL            Signaling relay (default ws://localhost:8080/ws)
  CALL_STUN_URL              STUN server (default stun:stun.l.google.com:19302)
  CALL_MEDIA                 microphone or silence (default microphone)
  CALL_RECORD_PATH           Write the remote audio to this Ogg file
  CALL_CONNECT_TIMEOUT       Signaling connect timeout (default 10s)
  CALL_SIGNAL_PING_INTERVAL  WebSocket keepalive interval (default 20s)
  CALL_LOG_LEVEL             debug, info, warn or error (default info)
  CALL_PION_LOG_LEVEL        Level for WebRTC internals (default warn)
  CALL_KEEP_LOOPBACK         Keep loopback ICE candidates, for two clients on one host

Examples:
  # Start a call and share the printed link
  CALL_EMAIL=alice@example.com callroom create

  # Answer it from another machine
  CALL_EMAIL=bob@example.com callroom join http://localhost:8080/room/<id>

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Str("component", "main").Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("component", "main").Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	source, err := media.New(cfg.Media)
	if err != nil {
		log.Fatal().Str("component", "main").Err(err).Msg("media source")
	}

	factoryOpts := []webrtc.FactoryOption{webrtc.WithLogLevel(cfg.PionLogLevel)}
	if cfg.RecordPath != "" {
		factoryOpts = append(factoryOpts, webrtc.WithRecordPath(cfg.RecordPath))
	}
	if cfg.KeepLoopback {
		factoryOpts = append(factoryOpts, webrtc.WithoutLoopbackFilter())
	}
	peers, err := webrtc.NewFactory(cfg.STUNURL, factoryOpts...)
	if err != nil {
		log.Fatal().Str("component", "main").Err(err).Msg("webrtc setup")
	}

	deps := session.Deps{
		Media: source,
		Peers: peers,
		NewSignaler: func() domain.Signaler {
			return sigclient.NewClient(
				sigclient.WithPingInterval(cfg.SignalPingInterval),
				sigclient.WithDialer(&websocket.Dialer{
					Proxy:            http.ProxyFromEnvironment,
					HandshakeTimeout: cfg.ConnectTimeout,
				}),
			)
		},
		SignalURL:      cfg.SignalURL,
		ConnectTimeout: cfg.ConnectTimeout,
	}
	rooms := api.NewClient(cfg.APIURL, nil)
	onState := session.WithStateListener(func(from, to session.State) {
		fmt.Fprintf(os.Stderr, "call: %s\n", to)
	})

	var s *session.Session
	switch os.Args[1] {
	case "create":
		var a *domain.Assignment
		s, a, err = session.Create(ctx, rooms, cfg.Email, deps, onState)
		if err != nil {
			log.Fatal().Str("component", "main").Err(err).Msg("create room")
		}
		fmt.Fprintf(os.Stderr, "Share this link with the callee:\n  %s\n", a.RoomURL)

	case "join":
		if len(os.Args) < 3 {
			fmt.Print(helpText)
			os.Exit(2)
		}
		roomID, perr := api.ParseRoomID(os.Args[2])
		if perr != nil {
			log.Fatal().Str("component", "main").Err(perr).Msg("room reference")
		}
		var a *domain.Assignment
		s, a, err = session.Join(ctx, rooms, roomID, cfg.Email, deps, onState)
		if err != nil {
			log.Fatal().Str("component", "main").Err(err).Msg("join room")
		}
		fmt.Fprintf(os.Stderr, "%s\n", a.StatusMessage)

	default:
		fmt.Print(helpText)
		os.Exit(2)
	}

	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimSpace(line) == "" {
				s.Hangup()
				return
			}
		}
	}()

	if err := s.Run(ctx); err != nil {
		log.Error().Str("component", "main").Err(err).Msg("call ended with error")
		os.Exit(1)
	}
	log.Info().Str("component", "main").Msg("call ended")
}
