/*
Command wampdemo runs small WAMP demo programs against a router: an add2
callee and caller, a mul2 callee, and a hello publisher and subscriber.

Settings are read from a YAML or TOML file given with -c, and command line
flags override the file.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/crossbario/crossbar/client"
	"github.com/crossbario/crossbar/transport"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "wampdemo",
		Usage: "WAMP client demos",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML config file",
				EnvVars: []string{"WAMPDEMO_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "Router URL (ws, wss, http or https)",
			},
			&cli.StringFlag{
				Name:  "realm",
				Usage: "Realm to join",
			},
			&cli.StringFlag{
				Name:  "serialize",
				Usage: "Serialization: json, msgpack or cbor",
			},
			&cli.StringFlag{
				Name:  "authid",
				Usage: "Authentication ID",
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "WAMP-CRA secret",
				EnvVars: []string{"WAMPDEMO_SECRET"},
			},
			&cli.StringFlag{
				Name:  "keyfile",
				Usage: "Crossbar key file with an Ed25519 keypair for cryptosign",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve prometheus metrics on this address",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log every message sent and received",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "add2-callee",
				Usage:  "Register com.example.add2",
				Action: runDemo(add2Callee),
			},
			{
				Name:      "add2-caller",
				Usage:     "Call com.example.add2",
				ArgsUsage: "<a> <b>",
				Action:    runDemo(add2Caller),
			},
			{
				Name:   "mul2-callee",
				Usage:  "Register com.myapp.mul2",
				Action: runDemo(mul2Callee),
			},
			{
				Name:  "hello-pub",
				Usage: "Publish to com.example.hello",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "count",
						Value: 5,
						Usage: "Number of events to publish",
					},
				},
				Action: runDemo(helloPublisher),
			},
			{
				Name:   "hello-sub",
				Usage:  "Subscribe to com.example.hello",
				Action: runDemo(helloSubscriber),
			},
		},
	}
}

// demoFunc runs one demo on an open session until it finishes or ctx is
// canceled.
type demoFunc func(ctx context.Context, c *cli.Context, s *client.Session, logger *log.Logger) error

func runDemo(demo demoFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		logger := log.New(os.Stdout, c.Command.Name+"> ", 0)

		conf, err := loadConfig(c.String("config"))
		if err != nil {
			return err
		}
		applyFlags(c, conf)
		cfg, err := conf.clientConfig()
		if err != nil {
			return err
		}
		cfg.Logger = logger

		if conf.MetricsAddr != "" {
			serveMetrics(conf.MetricsAddr, logger)
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
		defer stop()

		s, err := client.Connect(ctx, conf.URL, cfg)
		if err != nil {
			return fmt.Errorf("cannot join %s at %s: %w", conf.Realm, conf.URL, err)
		}
		logger.Println("Joined realm", s.Realm(), "as session", s.ID())

		err = demo(ctx, c, s, logger)
		if s.State() == client.Established {
			if lerr := s.Leave(context.Background(), ""); lerr != nil {
				logger.Println("Leave:", lerr)
			}
		}
		s.Close()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

// applyFlags overrides file settings with the flags given on the command
// line.
func applyFlags(c *cli.Context, conf *demoConfig) {
	if c.IsSet("url") {
		conf.URL = c.String("url")
	}
	if c.IsSet("realm") {
		conf.Realm = c.String("realm")
	}
	if c.IsSet("serialize") {
		conf.Serialization = c.String("serialize")
	}
	if c.IsSet("authid") {
		conf.Auth.AuthID = c.String("authid")
	}
	if c.IsSet("secret") {
		conf.Auth.Secret = c.String("secret")
	}
	if c.IsSet("keyfile") {
		conf.Auth.KeyFile = c.String("keyfile")
		conf.Auth.Seed = ""
	}
	if c.IsSet("metrics-addr") {
		conf.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("debug") {
		conf.Debug = c.Bool("debug")
	}
}

func serveMetrics(addr string, logger *log.Logger) {
	transport.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Println("Metrics server:", err)
		}
	}()
	logger.Printf("Serving metrics on http://%s/metrics", addr)
}
