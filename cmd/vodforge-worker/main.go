// Command vodforge-worker consumes process-job invocations from Kafka and
// runs them on a local queue. It serves no HTTP.
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
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/dispatch"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	brokers := flag.String("brokers", "", "Comma separated Kafka brokers, overriding the configuration")
	grace := flag.Duration("shutdown-grace", 5*time.Minute, "Time allowed for running jobs to finish")
	flag.Parse()

	if err := run(app.ResolveConfigPath(*configPath), *brokers, *grace); err != nil {
		fmt.Fprintf(os.Stderr, "vodforge-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, brokers string, grace time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if list := dispatch.SplitBrokers(brokers); len(list) > 0 {
		rt.Config.Trigger.Brokers = list
	}
	if len(rt.Config.Trigger.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	module, err := transcodingmodule.NewModule(ctx, rt.Config, rt.DB, transcodingmodule.Options{Version: version, Worker: true}, rt.Logger)
	if err != nil {
		return err
	}
	module.Start(ctx)

	rt.Logger.Info("vodforge worker starting", "version", version, "brokers", rt.Config.Trigger.Brokers)
	consumeErr := module.RunConsumer(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := module.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Error("module shutdown", "error", err)
	}

	rt.Logger.Info("vodforge worker stopped")
	return consumeErr
}
