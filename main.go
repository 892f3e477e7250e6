package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"board-sync/client"
	"board-sync/config"
	"board-sync/session"
)

var (
	cfgFile       string
	debug         bool
	tokenOverride string
	boardOverride string
)

// app holds what every command needs once flags and config are resolved.
type app struct {
	cfg    *config.Config
	logger *log.Logger
	redis  *redis.Client
	store  *session.Store
	api    *client.Client
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "board-sync",
		Short:         "board-sync keeps a task board in sync with its collaborators",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.redis != nil {
				_ = a.redis.Close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (JSON)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&tokenOverride, "token", "", "bearer token, overrides the stored one")
	cmd.PersistentFlags().StringVar(&boardOverride, "board", "", "board id, overrides the selected one")

	cmd.AddCommand(loginCmd(a), logoutCmd(a), boardsCmd(a), useCmd(a), watchCmd(a), serveCmd(a))
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = log.StandardLogger()
	if debug || cfg.Debug {
		a.logger.SetLevel(log.DebugLevel)
	}
	a.redis = session.NewRedisClient(cfg.RedisURL)
	a.store = session.NewStore(a.redis, cfg.Profile)
	a.api = client.New(cfg.APIURL, a.logger)
	return nil
}

func (a *app) token(ctx context.Context) (string, error) {
	if tokenOverride != "" {
		return tokenOverride, nil
	}
	tok, ok, err := a.store.Token(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("not logged in, run login first")
	}
	return tok, nil
}

func (a *app) boardID(ctx context.Context) (string, error) {
	if boardOverride != "" {
		return boardOverride, nil
	}
	id, ok, err := a.store.Get(ctx, session.KeyBoard)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no board selected, run use <board> first")
	}
	return id, nil
}
