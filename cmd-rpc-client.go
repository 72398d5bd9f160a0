package main

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/client"
	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/netapi"
)

func newCmd_rpcClient() *cli.Command {
	var server1URL, server2URL, configPath string
	var name, message, keyHex string
	return &cli.Command{
		Name:        "rpc-client",
		Usage:       "Write one message through a remote deployment and read it back.",
		Description: "Drives a full epoch against remote servers: batch init, one queued write, batch write, then a read of the freshly written message. Useful as a smoke test of a deployment.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server1",
				Usage:       "Base URL of the write coordinator",
				Value:       "http://127.0.0.1:3002",
				Destination: &server1URL,
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
				Destination: &configPath,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "Client identifier mixed into path derivation",
				Value:       "smoke-client",
				Destination: &name,
			},
			&cli.StringFlag{
				Name:        "message",
				Usage:       "Message to send",
				Value:       "hello myco",
				Destination: &message,
			},
			&cli.StringFlag{
				Name:        "key",
				Usage:       "Hex-encoded 16-byte conversation key (random if empty)",
				Destination: &keyHex,
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

			var k dtypes.Key
			if keyHex != "" {
				raw, err := hex.DecodeString(keyHex)
				if err != nil {
					return cli.Exit(fmt.Sprintf("invalid key: %v", err), 1)
				}
				if k, err = dtypes.KeyFromBytes(raw); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			} else {
				if k, err = dtypes.RandomKey(); err != nil {
					return err
				}
			}

			s1 := netapi.NewRemoteServer1(server1URL)
			s2 := netapi.NewRemoteServer2(server2URL, params)
			cl, err := client.New(name, params, s1, s2)
			if err != nil {
				return err
			}
			if err := cl.Setup(k); err != nil {
				return err
			}

			if err := s1.BatchInit(1); err != nil {
				return fmt.Errorf("batch init failed: %w", err)
			}
			if err := cl.AsyncWrite([]byte(message), k); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}
			if err := s1.BatchWrite(); err != nil {
				return fmt.Errorf("batch write failed: %w", err)
			}
			klog.Infof("rpc-client: wrote %d bytes as %q", len(message), name)

			got, err := cl.AsyncRead([]dtypes.Key{k}, name, 0, 1)
			if err != nil {
				return fmt.Errorf("read failed: %w", err)
			}
			fmt.Printf("read back: %q\n", got[0])
			return nil
		},
	}
}
