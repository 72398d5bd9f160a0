package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/rpcpool/myco/client"
	"github.com/rpcpool/myco/dtypes"
	"github.com/rpcpool/myco/mycocrypto"
	"github.com/rpcpool/myco/netapi"
	"github.com/rpcpool/myco/server1"
	"github.com/rpcpool/myco/server2"
)

// clientPair is two simulated users exchanging messages over a shared
// conversation key in each direction.
type clientPair struct {
	alice, bob   *client.Client
	aliceToBob   dtypes.Key
	bobToAlice   dtypes.Key
	aliceMessage []byte
	bobMessage   []byte
}

func newCmd_Simulate() *cli.Command {
	var numEpochs int
	var numPairs int
	var configPath string
	return &cli.Command{
		Name:        "simulate",
		Usage:       "Run an in-process deployment for a number of epochs.",
		Description: "Spin up both servers in-process, drive paired clients through write/read cycles, verify every delivery, and report bucket usage statistics.",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "epochs",
				Usage:       "Number of epochs to simulate",
				Value:       10,
				Destination: &numEpochs,
			},
			&cli.IntFlag{
				Name:        "pairs",
				Usage:       "Number of client pairs (two writes per pair per epoch)",
				Value:       4,
				Destination: &numPairs,
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
			return runSimulation(params, numEpochs, numPairs)
		},
	}
}

func runSimulation(params dtypes.Params, numEpochs, numPairs int) error {
	s2, err := server2.New(params)
	if err != nil {
		return err
	}
	s2Access := netapi.NewLocalServer2(s2)
	s1, err := server1.New(params, s2Access)
	if err != nil {
		return err
	}
	s1Access := netapi.NewLocalServer1(s1)

	pairs := make([]*clientPair, numPairs)
	for i := range pairs {
		pair, err := newClientPair(params, s1Access, s2Access)
		if err != nil {
			return err
		}
		pairs[i] = pair
	}
	klog.Infof("simulate: %d pairs, %d epochs, tree depth %d, Z=%d", numPairs, numEpochs, params.D, params.Z)

	bar := progressbar.Default(int64(numEpochs), "epochs")
	for epoch := 0; epoch < numEpochs; epoch++ {
		if err := s1.BatchInit(2 * numPairs); err != nil {
			return fmt.Errorf("epoch %d: batch init failed: %w", epoch, err)
		}

		var g errgroup.Group
		for _, pair := range pairs {
			pair := pair
			g.Go(func() error { return pair.writeBoth() })
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("epoch %d: writes failed: %w", epoch, err)
		}

		if err := s1.BatchWrite(); err != nil {
			return fmt.Errorf("epoch %d: batch write failed: %w", epoch, err)
		}

		for i, pair := range pairs {
			if err := pair.readAndVerify(); err != nil {
				return fmt.Errorf("epoch %d, pair %d: %w", epoch, i, err)
			}
		}
		bar.Add(1)
	}

	kMsg, err := mycocrypto.Kdf(pairs[0].aliceToBob.Bytes(), "MSG")
	if err != nil {
		return err
	}
	usage := CalculateBucketUsage(s2.Tree(), s1.MetadataTree(), kMsg)
	klog.Infof("simulate: bucket usage: %s", usage)
	fmt.Println(usage)
	return nil
}

func newClientPair(params dtypes.Params, s1 client.Server1Access, s2 client.Server2Access) (*clientPair, error) {
	alice, err := client.New("alice-"+uuid.NewString(), params, s1, s2)
	if err != nil {
		return nil, err
	}
	bob, err := client.New("bob-"+uuid.NewString(), params, s1, s2)
	if err != nil {
		return nil, err
	}
	aliceToBob, err := dtypes.RandomKey()
	if err != nil {
		return nil, err
	}
	bobToAlice, err := dtypes.RandomKey()
	if err != nil {
		return nil, err
	}
	for _, cl := range []*client.Client{alice, bob} {
		if err := cl.Setup(aliceToBob); err != nil {
			return nil, err
		}
		if err := cl.Setup(bobToAlice); err != nil {
			return nil, err
		}
	}
	return &clientPair{
		alice:        alice,
		bob:          bob,
		aliceToBob:   aliceToBob,
		bobToAlice:   bobToAlice,
		aliceMessage: []byte("hello from alice"),
		bobMessage:   []byte("hello from bob"),
	}, nil
}

func (p *clientPair) writeBoth() error {
	if err := p.alice.AsyncWrite(p.aliceMessage, p.aliceToBob); err != nil {
		return err
	}
	return p.bob.AsyncWrite(p.bobMessage, p.bobToAlice)
}

func (p *clientPair) readAndVerify() error {
	got, err := p.alice.AsyncRead([]dtypes.Key{p.bobToAlice}, p.bob.ID(), 0, 1)
	if err != nil {
		return fmt.Errorf("alice read failed: %w", err)
	}
	if string(got[0]) != string(p.bobMessage) {
		return fmt.Errorf("alice read %q, want %q", got[0], p.bobMessage)
	}
	got, err = p.bob.AsyncRead([]dtypes.Key{p.aliceToBob}, p.alice.ID(), 0, 1)
	if err != nil {
		return fmt.Errorf("bob read failed: %w", err)
	}
	if string(got[0]) != string(p.aliceMessage) {
		return fmt.Errorf("bob read %q, want %q", got[0], p.aliceMessage)
	}
	return nil
}
