// clipctl uploads a single video to an ingestion server and optionally hands
// it over to clip generation
package main

import (
	"bitwise74/clip-ingest/client"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	server    = pflag.StringP("server", "s", "http://localhost:8080", "Ingestion server base URL")
	turnstile = pflag.String("turnstile-token", "", "Turnstile token sent with the upload")
	clips     = pflag.Bool("clips", false, "Request clip generation once uploaded")
	timeout   = pflag.Duration("timeout", client.DefaultTimeout, "Upload timeout")
	retries   = pflag.Int("retries", 2, "Retries for retryable failures")
	verbose   = pflag.BoolP("verbose", "v", false, "Log debug output")
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: clipctl [flags] <file>\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	log := zap.NewNop()
	if *verbose {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, pflag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger, paths []string) error {
	var candidates []client.Candidate
	for _, p := range paths {
		cand, err := client.FileCandidate(p)
		if err != nil {
			return err
		}
		candidates = append(candidates, cand)
	}

	transport := client.NewHTTPTransport(*server)
	transport.TurnstileToken = *turnstile

	c := client.New(client.Options{
		Transport: transport,
		Clips:     client.NewHTTPClipGenerator(*server),
		Timeout:   *timeout,
		Logger:    log,
	})

	last := -1
	c.Subscribe(func(s client.Snapshot) {
		if s.State == client.StateUploading && s.Progress != last {
			last = s.Progress
			fmt.Fprintf(os.Stderr, "\ruploading %3d%%", s.Progress)
		}
	})

	if err := c.SelectCandidate(candidates...); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt <= *retries; attempt++ {
		err = c.BeginTransfer(ctx)
		if err == nil {
			break
		}

		var terr *client.TransferError
		if !errors.As(err, &terr) || !terr.Retryable() || ctx.Err() != nil {
			break
		}

		log.Debug("Retrying upload", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	fmt.Fprintln(os.Stderr)

	if err != nil {
		log.Debug("Upload failed", zap.Error(err))
		return errors.New(client.FailureMessage)
	}

	id := c.Snapshot().VideoID
	fmt.Println(id)

	if *clips {
		return c.HandOff(ctx)
	}

	return nil
}
