package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func main() {
	// set up a context that is canceled when a command is interrupted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up a signal handler to cancel the context
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		// Allow any further SIGTERM or SIGINT to kill process
		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "myco",
		Version:     GitCommit,
		Description: "CLI to run and drive the Myco metadata-hiding messaging servers: the write coordinator (server1), the bucket-tree storage (server2), and local simulation and benchmark harnesses.",
		Before: func(c *cli.Context) error {
			return nil
		},
		Flags: []cli.Flag{},
		Commands: []*cli.Command{
			newCmd_rpcServer1(),
			newCmd_rpcServer2(),
			newCmd_rpcClient(),
			newCmd_Simulate(),
			newCmd_BenchThroughput(),
			newCmd_BenchLatency(),
			newCmd_Version(),
		},
	}
	app.Flags = append(app.Flags, NewKlogFlagSet()...)

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Errorf("error: %v", err)
		os.Exit(1)
	}
}
