// spineldb-inspect polls a running spineldb process's debug snapshot
// endpoint and prints hit/miss/eviction/memory/read-only counters, either
// once, in a watch loop, or as JSON. Adapted from
// cmd/arena-cache-inspect/main.go, keeping its flag/watch/JSON-output shape
// and retargeting the fetched fields to spineldb's admin-observable
// counters (spec.md §6): hits, misses, evictions, shard memory bytes,
// lazy-free queue depth, and the read-only gauge.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var version = "dev"

type options struct {
	target           string
	watch            bool
	interval         time.Duration
	json             bool
	version          bool
	heapProfile      string
	goroutineProfile string
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.target, "target", "http://127.0.0.1:6380", "base URL of the spineldb debug endpoint")
	flag.BoolVar(&opts.watch, "watch", false, "poll the snapshot endpoint repeatedly")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "polling interval in watch mode")
	flag.BoolVar(&opts.json, "json", false, "emit the raw JSON snapshot instead of a pretty summary")
	flag.BoolVar(&opts.version, "version", false, "print the CLI version and exit")
	flag.StringVar(&opts.heapProfile, "heap-profile", "", "download a heap pprof profile to this path and exit")
	flag.StringVar(&opts.goroutineProfile, "goroutine-profile", "", "download a goroutine pprof profile to this path and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.heapProfile != "" {
		if err := downloadProfile(ctx, opts.target, "heap", opts.heapProfile); err != nil {
			fatal(err)
		}
		return
	}
	if opts.goroutineProfile != "" {
		if err := downloadProfile(ctx, opts.target, "goroutine", opts.goroutineProfile); err != nil {
			fatal(err)
		}
		return
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpOnce(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpOnce(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	url := base + "/debug/spineldb/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func prettyPrint(data map[string]any) error {
	fmt.Printf("Hits:          %v\n", data["hits_total"])
	fmt.Printf("Misses:        %v\n", data["misses_total"])
	fmt.Printf("Evictions:     %v\n", data["evictions_total"])
	fmt.Printf("Keys:          %v\n", data["shard_keys"])
	fmt.Printf("Memory MB:     %.2f\n", toFloat(data["shard_memory_bytes"])/1_048_576)
	fmt.Printf("LazyFree depth:%v\n", data["lazyfree_queue_depth"])
	fmt.Printf("Read-only:     %v\n", data["read_only"])
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func downloadProfile(ctx context.Context, base, name, path string) error {
	url := fmt.Sprintf("%s/debug/pprof/%s", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, res.Body); err != nil {
		return err
	}
	fmt.Printf("%s profile saved to %s\n", name, path)
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "spineldb-inspect:", err)
	os.Exit(1)
}
