package main

import (
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/netapi"
	"github.com/rpcpool/myco/perflog"
	"github.com/rpcpool/myco/server2"
)

func initPerfLogFiles(latency, bytes string) error {
	return perflog.Init(latency, bytes)
}

func newCmd_rpcServer2() *cli.Command {
	var listenOn string
	var configPath string
	var randomFill bool
	return &cli.Command{
		Name:        "rpc-server2",
		Usage:       "Start the Myco storage server.",
		Description: "Serve the bucket tree and the PRF key ring over the binary HTTP RPC surface.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Usage:       "Listen address",
				Value:       ":3003",
				Destination: &listenOn,
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to a YAML deployment config",
				Value:       "",
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:        "random-fill",
				Usage:       "Pre-fill the tree with full random buckets so benchmarks see realistic path sizes",
				Value:       false,
				Destination: &randomFill,
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			params, err := cfg.Params()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if cfg.ListenOn != "" {
				listenOn = cfg.ListenOn
			}
			if err := cfg.initPerfLog(); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer perflog.Close()

			var opts []server2.Option
			if randomFill {
				opts = append(opts, server2.WithRandomBuckets())
			}
			s2, err := server2.New(params, opts...)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			klog.Infof(
				"server2: tree of %d nodes, up to %s of bucket data, listening on %s",
				params.NumNodes(),
				humanize.Bytes(uint64(params.NumNodes()*params.BucketSizeBytes())),
				listenOn,
			)

			srv := &fasthttp.Server{
				Handler:            netapi.NewServer2Handler(s2),
				MaxRequestBodySize: 2 * 1024 * 1024 * 1024,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe(listenOn)
			}()
			select {
			case err := <-errCh:
				return err
			case <-c.Context.Done():
				klog.Info("server2: shutting down")
				return srv.Shutdown()
			}
		},
	}
}
