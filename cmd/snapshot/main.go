// Command aipromptai-snapshot opens a URL in a headless, phone-emulated
// Chrome and writes a screenshot.
//
// Usage:
//
//	aipromptai-snapshot [flags] <url> <output-path>
//
// On success the last line written to stdout is exactly "SUCCESS" and the
// exit status is 0. Failures print "ERROR: <reason>" and exit 1; bad usage
// exits 2. Diagnostics go to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var (
	navTimeout = flag.Duration("nav-timeout", 15*time.Second, "Maximum wait for navigation and network idle")
	settle     = flag.Duration("settle", 2*time.Second, "Delay after load for client-side rendering")
	noSandbox  = flag.Bool("no-sandbox", false, "Disable the Chrome sandbox (needed when running as root in containers)")
	chromePath = flag.String("chrome", "", "Path to the Chrome/Chromium binary (default: auto-detect)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <url> <output-path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := Options{
		URL:        flag.Arg(0),
		OutputPath: flag.Arg(1),
		NavTimeout: *navTimeout,
		Settle:     *settle,
		NoSandbox:  *noSandbox,
		ChromePath: *chromePath,
	}

	if err := Take(ctx, opts, logger); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SUCCESS")
}
