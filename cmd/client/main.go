// Command client joins a room over websocket with a token issued by the REST API and
// prints the player actions the pushed messages reconcile into. Commands read from
// stdin: play, pause, seek <seconds>, load <url>, subtitles <on|off>, quit.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sharetube/syncserver/pkg/syncclient"
)

func main() {
	url := pflag.String("url", "ws://localhost:80/ws", "Websocket endpoint")
	token := pflag.String("token", "", "Member or pending token from the REST API")
	username := pflag.String("username", "", "Display name, defaults to the name the token was issued for")
	pflag.Parse()

	if *token == "" {
		log.Fatal("token is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := syncclient.Dial(ctx, syncclient.Config{
		URL:      *url,
		Token:    *token,
		Username: *username,
	}, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	go readCommands(client, stop)

	err = client.Run(ctx, func(state syncclient.LocalState, msg syncclient.Message, actions []syncclient.Action) {
		fmt.Printf("<- %s (admission=%q viewers=%v)\n", msg.Type, state.Admission, state.Viewers)
		for _, a := range actions {
			fmt.Printf("   %s url=%q position=%.2f enabled=%t\n", a.Kind, a.VideoURL, a.Position, a.Enabled)
		}
	})
	if err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}

func readCommands(client *syncclient.Client, stop func()) {
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "play", "pause":
			playing := fields[0] == "play"
			err = client.UpdateRoom(syncclient.RoomPayload{IsPlaying: &playing})
		case "seek":
			if len(fields) < 2 {
				fmt.Println("usage: seek <seconds>")
				continue
			}
			position, parseErr := strconv.ParseFloat(fields[1], 64)
			if parseErr != nil || position < 0 {
				fmt.Println("invalid position")
				continue
			}
			err = client.Seek(position)
		case "load":
			if len(fields) < 2 {
				fmt.Println("usage: load <url>")
				continue
			}
			position := 0.0
			err = client.UpdateRoom(syncclient.RoomPayload{VideoURL: &fields[1], PlaybackPosition: &position})
		case "subtitles":
			enabled := len(fields) > 1 && fields[1] == "on"
			err = client.UpdateRoom(syncclient.RoomPayload{SubtitleEnabled: &enabled})
		case "quit":
			return
		default:
			fmt.Println("unknown command")
			continue
		}

		if err != nil {
			fmt.Printf("failed to send: %v\n", err)
			return
		}
	}
}
