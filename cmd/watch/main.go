package main

import (
	"context"
	"deliverly/internal/model"
	"deliverly/internal/poller"
	"deliverly/pkg/deliverly"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "base URL of the deliverly API")
	jobID := flag.String("job", "", "id of the job to watch")
	filePath := flag.String("file", "", "CSV file to upload before watching")
	interval := flag.Duration("interval", poller.DefaultInterval, "polling interval")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	setupLogger(*verbose)

	if (*jobID == "") == (*filePath == "") {
		fmt.Println("Usage: watch -job <job_id> | -file <contacts.csv> [-server URL] [-interval 900ms]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := deliverly.New(*serverURL, 30*time.Second)

	id := *jobID
	if *filePath != "" {
		var err error
		id, err = upload(ctx, client, *filePath)
		if err != nil {
			log.Fatal().Err(err).Str("file", *filePath).Msg("Failed to upload file")
		}
		fmt.Println("Created job", id)
	}

	var last poller.Update
	p := poller.New(client, *interval, poller.ObserverFunc(func(u poller.Update) {
		last = u
		report(client, u)
	}))

	p.Start(ctx, id)

	select {
	case <-p.Done():
	case <-ctx.Done():
		p.Stop()
		fmt.Println("Stopped watching", id)
		return
	}

	if last.Kind == poller.UpdateFailed || (last.Job != nil && last.Job.State != model.StateFinished) {
		os.Exit(1)
	}
}

func upload(ctx context.Context, client *deliverly.Client, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return client.CreateJob(ctx, filepath.Base(path), file)
}

func report(client *deliverly.Client, u poller.Update) {
	switch u.Kind {
	case poller.UpdateProgress:
		fmt.Printf("[%s] %s\n", u.Job.State, u.Job.StateMessage())
	case poller.UpdateFinished:
		s := u.Summary
		fmt.Println(u.Job.StateMessage())
		fmt.Printf("  total %d  deliverable %d  risky %d  undeliverable %d  unknown %d\n",
			s.Total, s.Deliverable, s.Risky, s.Undeliverable, s.Unknown)
		fmt.Println("  CSV: ", client.ExportCSVURL(u.JobID))
		fmt.Println("  JSON:", client.ExportJSONURL(u.JobID))
	case poller.UpdateTerminal:
		fmt.Printf("[%s] %s\n", u.Job.State, u.Job.StateMessage())
	case poller.UpdateFailed:
		fmt.Println("Polling failed:", u.Err)
	}
}

func setupLogger(verbose bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}
