// Command netpipefs mounts a distributed named-pipe filesystem: every
// regular file under the mountpoint is a bidirectional pipe connecting
// this host to one peer, reachable by opening the same filename on
// both sides.
package main

import (
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/netpipefs/netpipefs-go/internal/config"
	"github.com/netpipefs/netpipefs-go/internal/fsadapter"
	"github.com/netpipefs/netpipefs-go/internal/handshake"
	"github.com/netpipefs/netpipefs-go/internal/pipefs"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "netpipefs"
	app.Usage = "mount a distributed named-pipe filesystem between two hosts"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "listen-port,p", Value: 12946, Usage: "local listen port"},
		cli.StringFlag{Name: "peer-host,H", Value: "", Usage: "peer host to dial"},
		cli.IntFlag{Name: "peer-port,P", Value: 12946, Usage: "peer port to dial"},
		cli.IntFlag{Name: "pipe-capacity,b", Value: 65536, Usage: "local per-pipe buffer size, bytes"},
		cli.IntFlag{Name: "timeout-ms,t", Value: 30000, Usage: "handshake timeout, milliseconds"},
		cli.StringFlag{Name: "mountpoint,m", Value: "", Usage: "mountpoint directory"},
		cli.BoolFlag{Name: "debug,d", Usage: "log every pipe state transition"},
		cli.BoolFlag{Name: "quiet,q", Usage: "suppress the startup banner"},
		cli.StringFlag{Name: "transport", Value: "tcp", Usage: "peer channel transport: tcp or kcp"},
		cli.BoolFlag{Name: "compress", Usage: "snappy-compress the whole peer connection"},
		cli.StringFlag{Name: "c", Usage: "path to a JSON config file; fields present there override flags"},
	}

	app.Action = func(c *cli.Context) error {
		cfg := config.Default()
		cfg.ListenPort = c.Int("listen-port")
		cfg.PeerHost = c.String("peer-host")
		cfg.PeerPort = c.Int("peer-port")
		cfg.PipeCapacity = c.Int("pipe-capacity")
		cfg.TimeoutMS = c.Int("timeout-ms")
		cfg.Mountpoint = c.String("mountpoint")
		cfg.Debug = c.Bool("debug")
		cfg.Quiet = c.Bool("quiet")
		cfg.Transport = c.String("transport")
		cfg.Compress = c.Bool("compress")

		if path := c.String("c"); path != "" {
			if err := config.ParseJSONFile(&cfg, path); err != nil {
				return err
			}
		}

		if cfg.PeerHost == "" || cfg.Mountpoint == "" {
			return cli.NewExitError("peer-host and mountpoint are required", 1)
		}

		if !cfg.Quiet {
			color.Cyan("netpipefs %s", VERSION)
			color.Cyan("listening on: %d, peer: %s:%d, mountpoint: %s", cfg.ListenPort, cfg.PeerHost, cfg.PeerPort, cfg.Mountpoint)
			color.Cyan("transport: %s, compress: %v, pipe capacity: %d", cfg.Transport, cfg.Compress, cfg.PipeCapacity)
		}

		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}

		ch, err := handshake.Run(handshake.Config{
			Transport:    handshake.Transport(cfg.Transport),
			LocalHost:    hostname,
			ListenPort:   cfg.ListenPort,
			PeerHost:     cfg.PeerHost,
			PeerPort:     cfg.PeerPort,
			PipeCapacity: cfg.PipeCapacity,
			Timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
			Compress:     cfg.Compress,
		})
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		log.Println("handshake complete, remote buffer capacity:", ch.RemoteCap)

		table := pipefs.NewTable(ch, cfg.PipeCapacity, cfg.Debug)
		dispatcher := pipefs.NewDispatcher(ch, table)
		go func() {
			if err := dispatcher.Run(); err != nil {
				log.Println("dispatcher stopped:", err)
			}
		}()

		server, err := fsadapter.Mount(table, cfg.Mountpoint, cfg.Debug)
		if err != nil {
			dispatcher.Stop()
			return cli.NewExitError(err.Error(), 1)
		}

		log.Println("mounted at", cfg.Mountpoint)
		server.Serve()
		dispatcher.Stop()
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
