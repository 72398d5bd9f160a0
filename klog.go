package main

import (
	"flag"
	"fmt"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

func NewKlogFlagSet() []cli.Flag {
	fs := flag.NewFlagSet("klog", flag.PanicOnError)
	klog.InitFlags(fs)

	fs.Set("v", "2")
	fs.Set("logtostderr", "true")

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log_dir",
			Usage:   "If non-empty, write log files in this directory (no effect when -logtostderr=true)",
			EnvVars: []string{"MYCO_LOG_DIR"},
			Action: func(cctx *cli.Context, v string) error {
				if v != "" {
					fs.Set("log_dir", v)
				}
				return nil
			},
		},
		&cli.StringFlag{
			Name:    "log_file",
			Usage:   "If non-empty, use this log file (no effect when -logtostderr=true)",
			EnvVars: []string{"MYCO_LOG_FILE"},
			Action: func(cctx *cli.Context, v string) error {
				if v != "" {
					fs.Set("log_file", v)
				}
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "verbosity",
			Usage:       "Log verbosity level; the higher, the chattier",
			EnvVars:     []string{"MYCO_VERBOSITY"},
			DefaultText: "2",
			Action: func(cctx *cli.Context, v int) error {
				return fs.Set("v", fmt.Sprintf("%d", v))
			},
		},
		&cli.BoolFlag{
			Name:    "logtostderr",
			Usage:   "Log to standard error instead of files",
			EnvVars: []string{"MYCO_LOG_TO_STDERR"},
			Value:   true,
			Action: func(cctx *cli.Context, v bool) error {
				return fs.Set("logtostderr", fmt.Sprintf("%t", v))
			},
		},
	}
}
