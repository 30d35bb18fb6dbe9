package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/motormarket/realtime/internal/alert"
	"github.com/motormarket/realtime/internal/app"
	"github.com/motormarket/realtime/internal/config"
	"github.com/motormarket/realtime/internal/core"
	"github.com/motormarket/realtime/internal/log"
)

func newChatCmd() *cobra.Command {
	var (
		peer         string
		conversation string
		gateway      string
		api          string
		token        string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open a conversation with a peer and relay typed lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{GatewayURL: gateway, APIBaseURL: api, Token: token})
			if peer == "" {
				return fmt.Errorf("--peer is required")
			}

			logger := log.New(cfg.LogLevel, cfg.LogFormat)
			client, err := app.New(cfg, logger, &alert.Terminal{Out: cmd.OutOrStdout(), Logger: logger})
			if err != nil {
				return err
			}
			if conversation == "" {
				conversation = conversationID(client.SelfID, peer)
			}
			return runChat(cmd, client, conversation, peer)
		},
	}

	cmd.Flags().StringVar(&peer, "peer", "", "peer user id")
	cmd.Flags().StringVar(&conversation, "conversation", "", "conversation id (derived from the user pair when empty)")
	cmd.Flags().StringVar(&gateway, "gateway", "", "gateway websocket URL")
	cmd.Flags().StringVar(&api, "api", "", "persistence API base URL")
	cmd.Flags().StringVar(&token, "token", "", "session token")
	return cmd
}

// conversationID derives a stable id for a user pair so both sides
// land in the same conversation without a backend lookup.
func conversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "dm-" + pair[0] + "-" + pair[1]
}

func runChat(cmd *cobra.Command, client *app.App, conversation, peer string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	go renderChanges(client, out)

	if err := client.Session.OpenConversation(conversation, peer); err != nil {
		stop()
		<-done
		return err
	}
	fmt.Fprintf(out, "connected as %s, talking to %s in %s\n", client.SelfID, peer, conversation)
	fmt.Fprintln(out, "type to send, /read to mark read, /quit to exit")

	go func() {
		defer stop()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
				continue
			case line == "/quit":
				return
			case line == "/read":
				if err := client.Session.MarkConversationRead(conversation); err != nil {
					fmt.Fprintf(out, "! %v\n", err)
				}
			default:
				_ = client.Session.InputActivity(conversation)
				if _, err := client.Session.SendMessage(conversation, line); err != nil {
					fmt.Fprintf(out, "! send failed: %v\n", err)
				}
			}
		}
	}()

	<-ctx.Done()
	<-done
	return nil
}

func renderChanges(client *app.App, out io.Writer) {
	for ch := range client.Session.Changes() {
		switch ch.Kind {
		case core.ChangeNewMessage:
			who := ch.Message.SenderID
			if who == client.SelfID {
				who = "me"
			}
			fmt.Fprintf(out, "[%s] %s: %s\n", ch.Message.Status, who, ch.Message.Content)
		case core.ChangeMessageStatus:
			fmt.Fprintf(out, "  ~ message %s is now %s\n", shortID(ch.Message.ID), ch.Message.Status)
		case core.ChangeMessageSuperseded:
			fmt.Fprintf(out, "  ~ message %s confirmed as %s (%s)\n", shortID(ch.Message.LocalID), shortID(ch.Message.ID), ch.Message.Status)
		case core.ChangeTyping:
			if ch.Typing {
				fmt.Fprintf(out, "  ~ %s is typing...\n", ch.UserID)
			} else {
				fmt.Fprintf(out, "  ~ %s stopped typing\n", ch.UserID)
			}
		case core.ChangePresence:
			state := "offline"
			if ch.Online {
				state = "online"
			}
			fmt.Fprintf(out, "  ~ %s is %s\n", ch.UserID, state)
		case core.ChangeNotificationArrived:
			fmt.Fprintf(out, "  * [%s] %s\n", ch.Notification.Type, ch.Notification.Title)
		case core.ChangeNotificationBatch:
			fmt.Fprintf(out, "  * %s\n", ch.Batch.Title)
		case core.ChangeConnectivity:
			fmt.Fprintf(out, "  ~ connection: %s\n", ch.Connectivity)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
