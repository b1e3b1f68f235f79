package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/danmuck/wlproto/internal/config"
	"github.com/danmuck/wlproto/internal/connection"
	"github.com/danmuck/wlproto/internal/display"
	"github.com/danmuck/wlproto/internal/objmap"
	"github.com/danmuck/wlproto/internal/observability"
)

func main() {
	socketPath := flag.String("socket", "", "compositor socket path")
	configPath := flag.String("config", "", "client config file (see configgen -kind client)")
	timeout := flag.Duration("timeout", 5*time.Second, "overall deadline")
	objects := flag.Bool("objects", false, "also print the client object map")
	flag.Parse()

	logger := observability.InitLogger("wlinfo")

	cfg := config.DefaultConnectionConfig()
	if *configPath != "" {
		loaded, err := config.LoadConnectionConfig(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("config")
		}
		cfg = loaded
	}
	if *socketPath != "" {
		cfg.Socket = *socketPath
	}
	if cfg.Socket == "" {
		fmt.Fprintln(os.Stderr, "wlinfo: -socket or -config is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run(ctx, cfg, *objects); err != nil {
		fmt.Fprintf(os.Stderr, "wlinfo: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ConnectionConfig, showObjects bool) error {
	connCfg := cfg.Connection()
	connCfg.Side = objmap.Client
	conn, err := display.Dial(ctx, cfg.Socket, connCfg, cfg.Retry())
	if err != nil {
		return err
	}
	defer conn.Close()

	reg, err := display.GetRegistry(conn, nil)
	if err != nil {
		return err
	}
	if err := display.Roundtrip(ctx, conn, nil); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tINTERFACE\tVERSION")
	for _, g := range reg.Globals() {
		fmt.Fprintf(w, "%d\t%s\t%d\n", g.Name, g.Interface, g.Version)
	}
	if showObjects {
		fmt.Fprintln(w)
		printObjects(w, conn)
	}
	return w.Flush()
}

func printObjects(w *tabwriter.Writer, conn *connection.Connection) {
	fmt.Fprintln(w, "ID\tINTERFACE\tVERSION\tALIVE\tQUEUE")
	for _, o := range conn.Objects() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%d\n", o.ID, o.Interface, o.Version, o.Alive, o.Queue)
	}
}
