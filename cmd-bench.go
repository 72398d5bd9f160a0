package main

import (
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/client"
	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/netapi"
	"github.com/rpcpool/myco/perflog"
	"github.com/rpcpool/myco/server1"
	"github.com/rpcpool/myco/server2"
)

// benchDeployment is either an in-process pair of servers or remote ones,
// depending on the flags.
type benchDeployment struct {
	params dtypes.Params
	s1     client.Server1Access
	s2     client.Server2Access

	batchInit  func(n int) error
	batchWrite func() error
}

func setupBenchDeployment(params dtypes.Params, server1URL, server2URL string) (*benchDeployment, error) {
	if server1URL != "" && server2URL != "" {
		rs1 := netapi.NewRemoteServer1(server1URL)
		rs2 := netapi.NewRemoteServer2(server2URL, params)
		return &benchDeployment{
			params:     params,
			s1:         rs1,
			s2:         rs2,
			batchInit:  rs1.BatchInit,
			batchWrite: rs1.BatchWrite,
		}, nil
	}
	s2, err := server2.New(params)
	if err != nil {
		return nil, err
	}
	s2Access := netapi.NewLocalServer2(s2)
	s1, err := server1.New(params, s2Access)
	if err != nil {
		return nil, err
	}
	return &benchDeployment{
		params:     params,
		s1:         netapi.NewLocalServer1(s1),
		s2:         s2Access,
		batchInit:  s1.BatchInit,
		batchWrite: s1.BatchWrite,
	}, nil
}

func benchFlags(server1URL, server2URL, configPath *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "server1",
			Usage:       "Base URL of a remote write coordinator (leave empty with --server2 empty to run in-process)",
			Destination: server1URL,
		},
		&cli.StringFlag{
			Name:        "server2",
			Usage:       "Base URL of a remote storage server",
			Destination: server2URL,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path to a YAML deployment config",
			Destination: configPath,
		},
	}
}

func newCmd_BenchLatency() *cli.Command {
	var server1URL, server2URL, configPath string
	return &cli.Command{
		Name:        "bench-latency",
		Usage:       "Measure write and read latency over repeated single-message epochs.",
		Flags:       benchFlags(&server1URL, &server2URL, &configPath),
		Action: func(c *cli.Context) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			params, err := cfg.Params()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if err := perflog.Init("latency.csv", "bytes.csv"); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer perflog.Close()

			dep, err := setupBenchDeployment(params, server1URL, server2URL)
			if err != nil {
				return err
			}
			cl, err := client.New("bench-latency", params, dep.s1, dep.s2)
			if err != nil {
				return err
			}
			k, err := dtypes.RandomKey()
			if err != nil {
				return err
			}
			if err := cl.Setup(k); err != nil {
				return err
			}

			var writeTotal, readTotal time.Duration
			msg := []byte("latency probe")
			for i := 0; i < dtypes.LatencyBenchCount; i++ {
				if err := dep.batchInit(1); err != nil {
					return err
				}

				m := perflog.NewLatency("async_write")
				start := time.Now()
				if err := cl.AsyncWrite(msg, k); err != nil {
					return err
				}
				writeTotal += time.Since(start)
				m.Finish()

				m = perflog.NewLatency("batch_write")
				if err := dep.batchWrite(); err != nil {
					return err
				}
				m.Finish()

				m = perflog.NewLatency("async_read")
				start = time.Now()
				if _, err := cl.AsyncRead([]dtypes.Key{k}, cl.ID(), 0, 1); err != nil {
					return err
				}
				readTotal += time.Since(start)
				m.Finish()
			}

			n := time.Duration(dtypes.LatencyBenchCount)
			klog.Infof("bench-latency: %d iterations, avg write %s, avg read %s", dtypes.LatencyBenchCount, writeTotal/n, readTotal/n)
			fmt.Printf("avg write latency: %s\navg read latency: %s\n", writeTotal/n, readTotal/n)
			return nil
		},
	}
}

func newCmd_BenchThroughput() *cli.Command {
	var server1URL, server2URL, configPath string
	var numWriters int
	cmd := &cli.Command{
		Name:        "bench-throughput",
		Usage:       "Measure batch-write throughput with a full epoch of writers.",
		Action: func(c *cli.Context) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			params, err := cfg.Params()
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if numWriters == 0 {
				numWriters = params.NumClients()
			}
			if err := perflog.Init("throughput_latency.csv", "throughput_bytes.csv"); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer perflog.Close()

			dep, err := setupBenchDeployment(params, server1URL, server2URL)
			if err != nil {
				return err
			}

			// Deterministic payloads so repeated runs shuffle identical data.
			rng := mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(dtypes.FixedSeedTputRNG[:8]))))
			writers := make([]*client.Client, numWriters)
			keys := make([]dtypes.Key, numWriters)
			for i := range writers {
				cl, err := client.New(fmt.Sprintf("tput-%d", i), params, dep.s1, dep.s2)
				if err != nil {
					return err
				}
				if keys[i], err = dtypes.RandomKey(); err != nil {
					return err
				}
				if err := cl.Setup(keys[i]); err != nil {
					return err
				}
				writers[i] = cl
			}

			var totalMessages int
			start := time.Now()
			for iter := 0; iter < dtypes.ThroughputIterations; iter++ {
				if err := dep.batchInit(numWriters); err != nil {
					return err
				}
				msg := make([]byte, dtypes.MessageSize)
				for i, cl := range writers {
					rng.Read(msg)
					if err := cl.AsyncWrite(msg, keys[i]); err != nil {
						return err
					}
				}
				m := perflog.NewLatency("batch_write")
				if err := dep.batchWrite(); err != nil {
					return err
				}
				m.Finish()
				totalMessages += numWriters
				perflog.LogBytes("epoch_payload", numWriters*dtypes.BlockSize)
			}
			elapsed := time.Since(start)

			rate := float64(totalMessages) / elapsed.Seconds()
			klog.Infof("bench-throughput: %d messages in %s (%.1f msg/s)", totalMessages, elapsed, rate)
			fmt.Printf("throughput: %.1f messages/second over %d epochs\n", rate, dtypes.ThroughputIterations)
			return nil
		},
	}
	cmd.Flags = append(benchFlags(&server1URL, &server2URL, &configPath),
		&cli.IntFlag{
			Name:        "writers",
			Usage:       "Writers per epoch (defaults to the deployment's client count)",
			Destination: &numWriters,
		},
	)
	return cmd
}
