package main

import (
	"github.com/urfave/cli/v2"
	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/netapi"
	"github.com/rpcpool/myco/perflog"
	"github.com/rpcpool/myco/server1"
)

func newCmd_rpcServer1() *cli.Command {
	var listenOn string
	var server2URL string
	var configPath string
	return &cli.Command{
		Name:        "rpc-server1",
		Usage:       "Start the Myco write coordinator.",
		Description: "Accept queued client writes and run the per-epoch oblivious batch write against a storage server.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Usage:       "Listen address",
				Value:       ":3002",
				Destination: &listenOn,
			},
			&cli.StringFlag{
				Name:        "server2",
				Usage:       "Base URL of the storage server",
				Value:       "http://127.0.0.1:3003",
				Destination: &server2URL,
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to a YAML deployment config",
				Value:       "",
				Destination: &configPath,
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
			if cfg.Server2URL != "" {
				server2URL = cfg.Server2URL
			}
			if err := cfg.initPerfLog(); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer perflog.Close()

			s2 := netapi.NewRemoteServer2(server2URL, params)
			s1, err := server1.New(params, s2)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			klog.Infof("server1: coordinating against %s, listening on %s", server2URL, listenOn)

			srv := &fasthttp.Server{
				Handler:            netapi.NewServer1Handler(s1),
				MaxRequestBodySize: 64 * 1024 * 1024,
			}
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe(listenOn)
			}()
			select {
			case err := <-errCh:
				return err
			case <-c.Context.Done():
				klog.Info("server1: shutting down")
				return srv.Shutdown()
			}
		},
	}
}
