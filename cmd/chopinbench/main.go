// Command chopinbench drives concurrent HTTP load at a running chopin
// server and reports throughput, the way benchmarks/extreme drove
// concurrent load at writebatch directly. This version goes over the
// wire (net/http) instead of calling a Go API in-process, since the
// thing under test here is the reactor-driven HTTP core itself, not
// just the batching layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	target := flag.String("url", "http://127.0.0.1:8080/healthz", "URL to hammer")
	workers := flag.Int("workers", 100, "Number of concurrent requesting goroutines")
	duration := flag.Duration("duration", 10*time.Second, "How long to run")
	method := flag.String("method", "GET", "HTTP method")
	body := flag.String("body", "", "Request body (for POST/PUT)")
	flag.Parse()

	log.Println("=== chopinbench: HTTP throughput test ===")
	log.Printf("Target:     %s", *target)
	log.Printf("Method:     %s", *method)
	log.Printf("Workers:    %d", *workers)
	log.Printf("Duration:   %v", *duration)
	log.Println()

	client := &http.Client{Timeout: 5 * time.Second}

	var totalOps atomic.Int64
	var totalErrors atomic.Int64
	var lastOps int64
	var peakOps uint64

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				current := totalOps.Load()
				opsThisSec := uint64(current - lastOps)
				lastOps = current
				if opsThisSec > peakOps {
					peakOps = opsThisSec
				}
				log.Printf("  Current: %s req/sec, Total: %s req, Errors: %d",
					formatLarge(opsThisSec), formatLarge(uint64(current)), totalErrors.Load())
			}
		}
	}()

	var wg sync.WaitGroup
	startTime := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if err := doRequest(client, *method, *target, *body); err != nil {
					totalErrors.Add(1)
					continue
				}
				totalOps.Add(1)
			}
		}()
	}
	wg.Wait()
	close(done)

	elapsed := time.Since(startTime)
	total := totalOps.Load()
	avgOpsPerSec := float64(total) / elapsed.Seconds()

	log.Println()
	log.Println("=== Final Results ===")
	log.Printf("Duration:           %v", elapsed)
	log.Printf("Total Requests:     %s", formatLarge(uint64(total)))
	log.Printf("Errors:             %d", totalErrors.Load())
	log.Printf("Average Throughput: %s req/sec", formatLarge(uint64(avgOpsPerSec)))
	log.Printf("Peak Throughput:    %s req/sec", formatLarge(peakOps))
}

func doRequest(client *http.Client, method, url, body string) error {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: %s", resp.Status)
	}
	return nil
}

func formatLarge(n uint64) string {
	if n >= 1000000000 {
		return fmt.Sprintf("%.2fB", float64(n)/1000000000)
	} else if n >= 1000000 {
		return fmt.Sprintf("%.2fM", float64(n)/1000000)
	} else if n >= 1000 {
		return fmt.Sprintf("%.2fk", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}
