package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vodforge/vodforge/internal/app"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule"
	"github.com/vodforge/vodforge/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	grace := flag.Duration("shutdown-grace", 30*time.Second, "Time allowed for running jobs and connections to finish")
	flag.Parse()

	if err := run(app.ResolveConfigPath(*configPath), *grace); err != nil {
		fmt.Fprintf(os.Stderr, "vodforge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, grace time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	module, err := transcodingmodule.NewModule(ctx, rt.Config, rt.DB, transcodingmodule.Options{Version: version}, rt.Logger)
	if err != nil {
		return err
	}
	module.Start(ctx)

	srv, err := server.New(rt.Config.Server, rt.Logger, module)
	if err != nil {
		return err
	}

	rt.Logger.Info("vodforge starting", "version", version, "addr", srv.Addr())
	serveErr := srv.Run(ctx, grace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := module.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Error("module shutdown", "error", err)
	}

	rt.Logger.Info("vodforge stopped")
	return serveErr
}
