package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-client/internal/app"
	"chat-client/internal/session"
	"chat-client/internal/view"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the client and its local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New(c.cfg, c.logger, app.StartServer, app.RestoreConversation)
			if err := a.Err(); err != nil {
				return err
			}
			a.Run()
			return nil
		},
	}
}

func (c *cli) loginCmd() *cobra.Command {
	var token string
	var userID int64
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an access token for later commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			claims, err := session.ParseToken(token)
			switch {
			case err == nil && userID != 0 && userID != claims.UserID:
				return fmt.Errorf("token belongs to user %d, not %d", claims.UserID, userID)
			case err == nil:
				if claims.Expired(time.Now()) {
					return errors.New("token has expired")
				}
				userID = claims.UserID
			case userID == 0:
				return fmt.Errorf("%w; pass --user-id to use it anyway", err)
			default:
				c.logger.Warn("token claims unreadable, using --user-id", zap.Error(err))
			}

			return c.withHolder(ctx, func(h *session.Holder) error {
				prev, err := h.Load(ctx)
				if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
					return err
				}
				next := session.Session{Token: token, UserID: userID}
				if prev.UserID == userID {
					next.SelectedFriendID = prev.SelectedFriendID
				}
				if err := h.Save(ctx, next); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "logged in as user %d\n", userID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "access token issued by the chat backend")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id, read from the token when omitted")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func (c *cli) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <friend_id>",
		Short: "Select the conversation to show",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			friendID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || friendID <= 0 {
				return fmt.Errorf("invalid friend id %q", args[0])
			}
			// A running server holds the session store; it switches and
			// records the selection itself.
			body, _ := json.Marshal(map[string]int64{"friend_id": friendID})
			if _, err = c.call(ctx, http.MethodPost, "/conversation", body); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "conversation with user %d opened\n", friendID)
				return nil
			}
			c.logger.Debug("server not notified", zap.Error(err))

			err = c.withHolder(ctx, func(h *session.Holder) error {
				if _, err := h.Load(ctx); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
					return err
				}
				return h.SelectFriend(ctx, friendID)
			})
			if errors.Is(err, session.ErrNoSession) {
				return app.ErrNotLoggedIn
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conversation with user %d selected\n", friendID)
			return nil
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the open conversation from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := c.call(cmd.Context(), http.MethodGet, "/conversation/messages", nil)
			if err != nil {
				return err
			}
			var resp struct {
				Messages []view.Line `json:"messages"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode messages: %w", err)
			}
			return view.Write(cmd.OutOrStdout(), resp.Messages)
		},
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withHolder(ctx, func(h *session.Holder) error {
				if err := h.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
				return nil
			})
		},
	}
}

func (c *cli) withHolder(ctx context.Context, fn func(h *session.Holder) error) error {
	store, err := app.OpenSessionStore(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(session.NewHolder(store, c.cfg.Session.Profile))
}

// call sends a request to the local API of a running server.
func (c *cli) call(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.cfg.Server.Addr+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local server unreachable (is `chat-client serve` running?): %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(buf.Bytes(), &e)
		return nil, fmt.Errorf("local server: %s (status %d)", e.Error, resp.StatusCode)
	}
	return buf.Bytes(), nil
}
