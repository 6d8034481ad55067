// Command streamdemo exercises the public conn API end to end: it loads
// Options from YAML, opens a connection over the default websocket
// transport and JSON codec, adds one identifier subscription, and logs
// lifecycle events until interrupted. No Collaborator is configured, so the
// default conn.NoopCollaborator matches no frame to the subscription and
// every inbound frame surfaces as an unhandled-message event.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wsmux/wsmux/config"
	"github.com/wsmux/wsmux/conn"
	"github.com/wsmux/wsmux/internal/observability"
	"github.com/wsmux/wsmux/transport/wstransport"
)

const (
	defaultOptionsPath = "config/streamdemo.yaml"
	shutdownTimeout    = 5 * time.Second
)

func main() {
	url, optionsPath, identifier := parseFlags()

	stdlog := log.New(os.Stdout, "streamdemo ", log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(stdoutLogger{stdlog})

	options, loadedFromFile, err := loadOptions(optionsPath)
	if err != nil {
		stdlog.Fatalf("load options: %v", err)
	}
	if !loadedFromFile {
		stdlog.Printf("options file not found at %s, using defaults", optionsPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport, err := wstransport.New(wstransport.Config{URL: url, NoDataTimeout: options.SocketNoDataTimeout})
	if err != nil {
		stdlog.Fatalf("build transport: %v", err)
	}

	connection, err := conn.New(conn.Config{
		ID:        url,
		Transport: transport,
		Codec:     conn.JSONCodec{},
		Options:   options,
	})
	if err != nil {
		stdlog.Fatalf("build connection: %v", err)
	}

	connection.OnEvent(func(ev conn.Event) {
		stdlog.Printf("event: %s", ev.Kind)
	})

	sub := conn.NewSubscription(identifier, func(frame conn.Frame) error {
		stdlog.Printf("frame on %q: %v", identifier, frame.Value)
		return nil
	})
	if err := connection.AddSubscription(sub); err != nil {
		stdlog.Fatalf("add subscription: %v", err)
	}

	if err := connection.Connect(ctx); err != nil {
		stdlog.Fatalf("connect: %v", err)
	}
	stdlog.Printf("connected to %s, watching identifier %q", url, identifier)

	<-ctx.Done()
	stdlog.Print("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := connection.Close(shutdownCtx); err != nil {
		stdlog.Printf("close: %v", err)
	}
}

func parseFlags() (url, optionsPath, identifier string) {
	urlFlag := flag.String("url", "", "websocket URL to connect to")
	optionsFlag := flag.String("options", defaultOptionsPath, "path to options YAML file")
	identifierFlag := flag.String("identifier", "ticker", "subscription identifier to watch")
	flag.Parse()
	if *urlFlag == "" {
		fmt.Fprintln(os.Stderr, "missing required -url flag")
		os.Exit(2)
	}
	return *urlFlag, *optionsFlag, *identifierFlag
}

func loadOptions(path string) (conn.Options, bool, error) {
	options, err := config.Load(path)
	if err == nil {
		return options, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return conn.DefaultOptions(), false, nil
	}
	return conn.Options{}, false, err
}

type stdoutLogger struct{ l *log.Logger }

func (s stdoutLogger) Debug(msg string, fields ...observability.Field) { s.log("DEBUG", msg, fields) }
func (s stdoutLogger) Info(msg string, fields ...observability.Field)  { s.log("INFO", msg, fields) }
func (s stdoutLogger) Warn(msg string, fields ...observability.Field)  { s.log("WARN", msg, fields) }
func (s stdoutLogger) Error(msg string, fields ...observability.Field) { s.log("ERROR", msg, fields) }

func (s stdoutLogger) log(level, msg string, fields []observability.Field) {
	s.l.Printf("%s %s %v", level, msg, fields)
}
