// Command consult is a terminal client for one consult room: it prints
// the live message stream and drives a call from slash commands. It is
// the reference wiring of the realtime session against the portal (or
// the dev relay).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qtrack/consult/internal/config"
	"github.com/qtrack/consult/internal/core"
	"github.com/qtrack/consult/internal/domain"
	"github.com/qtrack/consult/internal/media"
	"github.com/qtrack/consult/internal/rtc"
	"github.com/qtrack/consult/internal/session"
	"github.com/qtrack/consult/internal/transport/rest"
	"github.com/qtrack/consult/internal/transport/socket"
)

// logSurface stands in for a renderer: stream handles are only logged.
type logSurface struct{}

func (logSurface) BindLocal(tracks []core.LocalTrack) {
	log.Info().Str("module", "surface").Int("tracks", len(tracks)).Msg("local preview bound")
}

func (logSurface) BindRemote(track *webrtc.TrackRemote) {
	log.Info().Str("module", "surface").Str("kind", track.Kind().String()).Msg("remote stream bound")
}

func (logSurface) Clear() {
	log.Info().Str("module", "surface").Msg("surfaces cleared")
}

func main() {
	roomFlag := flag.String("room", "", "consult room id")
	roleFlag := flag.String("role", "patient", "doctor or patient")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	role := domain.Role(*roleFlag)
	if *roomFlag == "" || !role.Valid() {
		fmt.Fprintln(os.Stderr, "usage: consult -room <id> -role doctor|patient")
		os.Exit(2)
	}

	channel := socket.Dial(socket.Config{
		URL:        cfg.SocketURL,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
	})
	portal := rest.NewClient(rest.Config{BaseURL: cfg.APIBaseURL, Token: cfg.APIToken})

	sess := session.New(session.Config{
		Room:    domain.RoomID(*roomFlag),
		Role:    role,
		Channel: channel,
		Store:   portal,
		Devices: media.NewDevices(),
		Peers:   rtc.Factory(rtc.DefaultConfig(cfg.StunServers)),
		Surface: logSurface{},
		Handler: session.Handler{
			OnMessages: func(msgs []domain.Message) {
				if len(msgs) == 0 {
					return
				}
				last := msgs[len(msgs)-1]
				fmt.Printf("[%s] %s: %s\n", last.CreatedAt.Format("15:04"), last.SenderRole, last.Text)
			},
			OnCallState: func(st domain.CallState) {
				fmt.Printf("-- call: %s\n", st)
			},
			OnConnecting: func(connecting bool) {
				if connecting {
					fmt.Println("-- connecting...")
				} else {
					fmt.Println("-- connected")
				}
			},
		},
	})
	if err := sess.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("session open")
	}
	defer sess.Close()

	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()

	fmt.Println("commands: /call /accept /decline /end /quit, anything else sends a message")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/call":
			sess.StartCall(ctx)
		case "/accept":
			sess.AcceptCall(ctx)
		case "/decline":
			sess.DeclineCall()
		case "/end":
			sess.EndCall()
		case "/quit":
			return
		default:
			if err := sess.SendMessage(ctx, line); err != nil {
				fmt.Printf("-- send failed: %v\n", err)
			}
		}
	}
}
