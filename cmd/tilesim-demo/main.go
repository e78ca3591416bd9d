// Command tilesim-demo runs a minimal reference device: a controller plus
// one demo peripheral tile at address 11, exercising the synchronous and
// asynchronous RPC echo scenarios end to end and printing the result.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tilesim/tilesim"
	"github.com/tilesim/tilesim/internal/controller"
	"github.com/tilesim/tilesim/internal/logging"
	"github.com/tilesim/tilesim/internal/wire"
)

func main() {
	verbose := flag.Bool("v", false, "verbose output")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	device := tilesim.NewDevice(tilesim.Options{Context: ctx, Logger: logger})
	defer device.Stop()

	tile := newDemoTile(11, device)
	tile.attach()
	device.Controller().DeclareConfigVariable(controller.ConfigVarDescriptor{ID: configVarA, DefaultValue: 0, ConfigType: 4})
	device.Controller().DeclareConfigVariable(controller.ConfigVarDescriptor{ID: configVarB, DefaultValue: 0, ConfigType: 0x10})

	logger.Info("demo device ready", "device_id", device.ID.String())

	if err := runScenarios(ctx, device); err != nil {
		logger.Error("scenario run failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("received shutdown signal")
}

// runScenarios exercises the sync and async RPC echo scenarios against the
// demo tile and reports their outcome.
func runScenarios(ctx context.Context, device *tilesim.Device) error {
	resp, err := device.Call(ctx, 11, rpcSyncEcho, wire.MarshalU32(42))
	if err != nil {
		return fmt.Errorf("sync echo: %w", err)
	}
	got, err := wire.UnmarshalU32(resp)
	if err != nil {
		return fmt.Errorf("sync echo: decoding reply: %w", err)
	}
	fmt.Printf("sync echo(42) = %d\n", got)

	resp, err = device.Call(ctx, 11, rpcAsyncEcho, wire.MarshalU32(7))
	if err != nil {
		return fmt.Errorf("async echo: %w", err)
	}
	got, err = wire.UnmarshalU32(resp)
	if err != nil {
		return fmt.Errorf("async echo: decoding reply: %w", err)
	}
	fmt.Printf("async echo(7) = %d\n", got)

	if err := device.WaitIdle(ctx, 2*time.Second); err != nil {
		return fmt.Errorf("wait_idle: %w", err)
	}
	fmt.Println("device idle")

	return nil
}
