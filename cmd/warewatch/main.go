package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/warewatch/client"
	"github.com/mistakeknot/warewatch/internal/auth"
	"github.com/mistakeknot/warewatch/internal/cli"
	"github.com/mistakeknot/warewatch/internal/emulator"
	httpapi "github.com/mistakeknot/warewatch/internal/http"
	"github.com/mistakeknot/warewatch/internal/monitor"
	"github.com/mistakeknot/warewatch/internal/server"
	"github.com/mistakeknot/warewatch/internal/storage/sqlite"
	"github.com/mistakeknot/warewatch/internal/tui"
	"github.com/mistakeknot/warewatch/internal/ws"
)

const (
	sweepInterval = time.Minute
	offlineGrace  = 2 * time.Minute
	scanRetention = 7 * 24 * time.Hour
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "warewatch",
		Short:         "warehouse inventory robot monitoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(newServeCommand())
	root.AddCommand(newWatchCommand())
	root.AddCommand(newEmulateCommand())
	root.AddCommand(newInitCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var (
		addr   string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the warehouse API and dashboard stream server",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(dbPath)
			if err != nil {
				return fmt.Errorf("store init: %w", err)
			}
			keyring, err := auth.LoadKeyringFromEnv()
			if err != nil {
				return fmt.Errorf("auth init: %w", err)
			}

			hub := ws.NewHub(store)
			svc := httpapi.NewService(store).WithBroadcaster(hub)
			router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(keyring))

			sweeper := sqlite.NewSweeper(store, hub, sweepInterval, offlineGrace, scanRetention)
			sweeper.Start(cmd.Context())
			defer sweeper.Stop()

			srv, err := server.New(server.Config{Addr: addr, Handler: router})
			if err != nil {
				return fmt.Errorf("server init: %w", err)
			}
			log.Printf("serve: listening on %s", addr)
			return srv.Start()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "warewatch.db", "sqlite database path")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var (
		baseURL string
		token   string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "open the live terminal dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			session := monitor.New(monitor.Config{
				BaseURL: baseURL,
				Token:   token,
			})
			defer session.Close()
			if err := session.Start(cmd.Context()); err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			return tui.Run(session)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8000", "server base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("WAREWATCH_TOKEN"), "API key")
	return cmd
}

func newEmulateCommand() *cobra.Command {
	var (
		baseURL  string
		token    string
		count    int
		interval int
	)
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "run fake inventory robots against a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			api := client.New(baseURL, client.WithToken(token))
			fleet := emulator.NewFleet(count, api,
				emulator.WithInterval(durationSeconds(interval)))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("emulate: %d robot(s) against %s", count, baseURL)
			fleet.Run(ctx)

			var scans, errs int
			for _, r := range fleet.Robots() {
				scans += r.Scans()
				errs += r.Errors()
			}
			log.Printf("emulate: done, %d scan(s), %d error(s)", scans, errs)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8000", "server base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("WAREWATCH_TOKEN"), "API key")
	cmd.Flags().IntVar(&count, "robots", 5, "number of robots")
	cmd.Flags().IntVar(&interval, "interval", 15, "seconds between scan passes")
	return cmd
}

func newInitCommand() *cobra.Command {
	var (
		keysPath  string
		warehouse string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "generate an API key for a warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keysPath == "" {
				keysPath = auth.ResolveKeysPath()
			}
			key, err := cli.InitKeysFile(keysPath, warehouse)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key for %s written to %s:\n%s\n", warehouse, keysPath, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&keysPath, "keys-file", "", "keys file path (default from WAREWATCH_KEYS_FILE)")
	cmd.Flags().StringVar(&warehouse, "warehouse", "main", "warehouse name")
	return cmd
}

func durationSeconds(s int) (d time.Duration) {
	if s > 0 {
		d = time.Duration(s) * time.Second
	}
	return d
}
