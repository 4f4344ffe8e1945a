// Command ingest publishes PDF files from a directory as asynchronous ingest
// jobs on NATS. The API server's consumer picks them up, so large batches
// can be loaded without holding HTTP connections open.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/docpilot-ai/docpilot/engine/ingest"
	"github.com/docpilot-ai/docpilot/pkg/fn"
	"github.com/docpilot-ai/docpilot/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

func main() {
	var (
		dir     = flag.String("dir", ".", "directory to scan for PDF files")
		natsURL = flag.String("nats", nats.DefaultURL, "NATS server URL")
		workers = flag.Int("workers", 4, "concurrent publishes")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		log.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()

	var files []string
	err = filepath.WalkDir(*dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("scan %s: %v", *dir, err)
	}
	if len(files) == 0 {
		log.Fatalf("no PDF files under %s", *dir)
	}
	log.Printf("publishing %d documents", len(files))

	published := fn.ParMap(files, *workers, func(path string) bool {
		if ctx.Err() != nil {
			return false
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("read %s: %v", path, err)
			return false
		}
		job := ingest.Job{Title: filepath.Base(path), Data: data}
		if err := natsutil.Publish(ctx, nc, ingest.IngestSubject, job); err != nil {
			log.Printf("publish %s: %v", path, err)
			return false
		}
		return true
	})

	var ok int
	for _, p := range published {
		if p {
			ok++
		}
	}
	if err := nc.Flush(); err != nil {
		log.Fatalf("flush: %v", err)
	}
	log.Printf("done: %d published, %d failed", ok, len(files)-ok)
}
