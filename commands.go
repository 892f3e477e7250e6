package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"board-sync/api"
	"board-sync/board"
	"board-sync/channel"
	"board-sync/session"
)

func loginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and remember the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("BOARD_PASSWORD")
			}
			if username == "" || password == "" {
				return errors.New("username and password are required")
			}
			ctx := cmd.Context()
			tok, err := a.api.Authenticate(ctx, username, password)
			if err != nil {
				return err
			}
			if err := a.store.SaveToken(ctx, tok); err != nil {
				return err
			}
			if err := a.store.Set(ctx, session.KeyUsername, username, 0); err != nil {
				return err
			}
			a.logger.WithField("username", username).Info("Logged in")
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "user name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, defaults to $BOARD_PASSWORD")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the token and the selected board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Clear(cmd.Context())
		},
	}
}

func boardsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tok, err := a.token(ctx)
			if err != nil {
				return err
			}
			boards, err := a.api.ListBoards(ctx, tok)
			if err != nil {
				return err
			}
			selected, _, _ := a.store.Get(ctx, session.KeyBoard)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, b := range boards {
				mark := " "
				if b.ID == selected {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", mark, b.ID, b.Name)
			}
			return w.Flush()
		},
	}
}

func useCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <board>",
		Short: "Select the board to sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tok, err := a.token(ctx)
			if err != nil {
				return err
			}
			b, err := a.api.GetBoard(ctx, args[0], tok)
			if err != nil {
				return err
			}
			if err := a.store.Set(ctx, session.KeyBoard, b.ID, 0); err != nil {
				return err
			}
			a.logger.WithFields(log.Fields{"board_id": b.ID, "name": b.Name}).Info("Board selected")
			return nil
		},
	}
}

// openSession starts a board session on the selected board. The returned
// errgroup runs the session loop until ctx ends.
func (a *app) openSession(ctx context.Context, g *errgroup.Group) (*board.Session, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return nil, err
	}
	boardID, err := a.boardID(ctx)
	if err != nil {
		return nil, err
	}
	live := channel.NewManager(channel.NewWebsocketDialer(a.cfg.WSURL), a.logger)
	s := board.New(a.api, live, a.logger, a.cfg.TasksPageSize)
	g.Go(func() error {
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if err := s.Open(ctx, boardID, tok); err != nil {
		// The view carries the error; reload or reconnect can recover.
		a.logger.WithError(err).Warn("Board not loaded")
	}
	return s, nil
}

// reloadDelay spaces out reloads of a board whose load failed.
const reloadDelay = 5 * time.Second

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the selected board and log every change, reloading it after a failed load",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, ctx := errgroup.WithContext(cmd.Context())
			s, err := a.openSession(ctx, g)
			if err != nil {
				return err
			}
			views, cancel, err := s.Subscribe(ctx)
			if err != nil {
				return err
			}
			defer cancel()
			retry := make(chan struct{}, 1)
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case v := <-views:
						logView(a.logger, v)
						if v.Error != "" {
							select {
							case retry <- struct{}{}:
							default:
							}
						}
					}
				}
			})
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-retry:
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(reloadDelay):
					}
					if err := s.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.logger.WithError(err).Warn("Reload failed")
					}
				}
			})
			return g.Wait()
		},
	}
}

func logView(logger *log.Logger, v board.View) {
	fields := log.Fields{
		"board_id":   v.BoardID,
		"connection": v.Connection,
		"tasks":      len(v.Tasks),
		"pending":    v.Pending,
	}
	for _, col := range v.Columns {
		fields[string(col.Status)] = len(col.Tasks)
	}
	entry := logger.WithFields(fields)
	switch {
	case v.Error != "":
		entry.WithField("error", v.Error).Warn("Board unavailable")
	case v.Loading:
		entry.Info("Loading board")
	default:
		entry.Info("Board updated")
	}
}

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the selected board over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, ctx := errgroup.WithContext(cmd.Context())
			s, err := a.openSession(ctx, g)
			if err != nil {
				return err
			}

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.Recover())
			e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
				AllowOrigins: []string{"*"},
				AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			}))
			api.Register(e, s, a.logger)

			g.Go(func() error {
				a.logger.WithField("addr", a.cfg.ListenAddr).Info("Serving board")
				if err := e.Start(a.cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return e.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}
