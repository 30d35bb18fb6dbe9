package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/motormarket/realtime/internal/store"
	"github.com/motormarket/realtime/internal/store/httpapi"
)

func newNotificationsCmd() *cobra.Command {
	var (
		api        string
		token      string
		typ        string
		unreadOnly bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List stored notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if api == "" {
				api = cfg.APIBaseURL
			}
			if token == "" {
				token = cfg.Token
			}
			if token == "" {
				return fmt.Errorf("a session token is required, run login first")
			}

			client := httpapi.New(api, token)
			items, err := client.FetchNotifications(cmd.Context(), store.NotificationFilter{
				Type:       typ,
				UnreadOnly: unreadOnly,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no notifications")
				return nil
			}
			for _, n := range items {
				marker := " "
				if !n.IsRead {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s  %s\n", marker, n.Type, n.Title, n.CreatedAt.Local().Format("Jan 2 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&api, "api", "", "persistence API base URL")
	cmd.Flags().StringVar(&token, "token", "", "session token")
	cmd.Flags().StringVar(&typ, "type", "", "filter by notification type")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only unread notifications")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results")
	return cmd
}
