// Benchmark tool: hammers the billing webhook endpoint with signed
// events and reports throughput plus deduplication behavior. With the
// "redeliver" workload a share of events reuse an already-sent id,
// mimicking billing-provider redelivery storms.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shjeon-96/ideatoprd-sub001/internal/billing"
)

var (
	targetURL   string
	secret      string
	concurrency int
	duration    time.Duration
	workload    string
	accountMax  int64
)

// Metrics
var (
	totalRequests uint64
	applied       uint64
	duplicates    uint64
	rejected      uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&secret, "secret", "", "Billing webhook secret (required)")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "unique", "Workload type: unique | redeliver")
	flag.Int64Var(&accountMax, "accounts", 100, "Highest seeded account id")
}

func main() {
	flag.Parse()
	if secret == "" {
		log.Fatal("-secret is required")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, i, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, id int, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	seq := 0
	for time.Since(start) < duration {
		seq++
		eventID := fmt.Sprintf("bench-%d-%d", id, seq)
		if workload == "redeliver" && seq > 1 && rand.Float32() < 0.30 {
			// Resend an id this worker already delivered.
			eventID = fmt.Sprintf("bench-%d-%d", id, rand.Intn(seq-1)+1)
		}

		payload := map[string]interface{}{
			"id":         eventID,
			"type":       "purchase.completed",
			"account_id": rand.Int63n(accountMax) + 1,
			"amount":     int64(100),
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/webhooks/billing", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(billing.SignatureHeader, billing.Sign([]byte(secret), body))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		var result struct {
			Status string `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()

		switch {
		case resp.StatusCode == 200 && result.Status == "applied":
			atomic.AddUint64(&applied, 1)
		case resp.StatusCode == 200 && result.Status == "duplicate":
			atomic.AddUint64(&duplicates, 1)
		case resp.StatusCode == 400:
			atomic.AddUint64(&rejected, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_rps": float64(total) / d.Seconds(),
		"applied":        atomic.LoadUint64(&applied),
		"duplicates":     atomic.LoadUint64(&duplicates),
		"rejected":       atomic.LoadUint64(&rejected),
		"errors":         atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, _ := os.Create(fmt.Sprintf("results_%s.json", workload))
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
