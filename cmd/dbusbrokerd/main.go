// Command dbusbrokerd runs a standalone message bus broker.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"

	"github.com/Gao-OS/dbusbroker/broker"
	"github.com/Gao-OS/dbusbroker/observer"
)

var serveArgs struct {
	SocketPath     string `flag:"socket,default=/run/dbusbrokerd/bus,Unix domain socket to listen on"`
	TCPAddr        string `flag:"tcp,Optional TCP address for debug-only connections (no fd passing)"`
	DebugDump      bool   `flag:"debug-dump,Log every routed message and name change to stderr"`
	SignalFallback bool   `flag:"signal-fallback,Also deliver signals to peers with no registered match rules (legacy compatibility, off by default)"`
}

func main() {
	root := &command.C{
		Name:  "dbusbrokerd",
		Usage: "command args...",
		Commands: []*command.C{
			{
				Name:     "serve",
				Usage:    "serve",
				Help:     "Run the broker until interrupted.",
				SetFlags: command.Flags(flax.MustBind, &serveArgs),
				Run:      command.Adapt(runServe),
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runServe(env *command.Env) error {
	b, err := broker.New(broker.Config{
		UnixSocketPath: serveArgs.SocketPath,
		TCPAddr:        serveArgs.TCPAddr,
		SignalFallback: serveArgs.SignalFallback,
	})
	if err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	log.Printf("dbusbrokerd listening on %s (bus id %s)", serveArgs.SocketPath, b.Bus.BusID())
	if serveArgs.TCPAddr != "" {
		log.Printf("debug tcp listener on %s", serveArgs.TCPAddr)
	}

	if serveArgs.DebugDump {
		sub := b.Feed.Subscribe()
		defer sub.Close(b.Feed)
		go dumpEvents(sub)
	}

	err = b.Serve(env.Context())
	log.Println("shutting down")
	return err
}

// dumpEvents pretty-prints every observer event until sub's channel
// closes, for the --debug-dump trace mode.
func dumpEvents(sub *observer.Subscriber) {
	for ev := range sub.Chan() {
		fmt.Fprintf(os.Stderr, "%# v\n", pretty.Formatter(ev))
	}
}
