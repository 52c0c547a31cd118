// Package main — cmd/irm-seed/main.go
//
// irm-seed is a synthetic event generator: it drives a population of
// actors through the ingestion endpoint to exercise baseline computation
// and scoring end to end, without a real upstream telemetry source.
//
// Usage:
//   irm-seed -addr http://localhost:8080 -source-key demo -api-key irm_... \
//     -actors 20 -events 500 -anomaly-rate 0.05
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
)

var actionTypes = []string{"file_read", "file_write", "api_call", "login", "export", "query"}
var resourceTypes = []string{"document", "database", "repository", "report"}
var knownIPs = []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
var anomalousIPs = []string{"45.33.12.9", "198.51.100.7"}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Ingestion endpoint base URL")
	sourceKey := flag.String("source-key", "demo", "Source key to ingest under")
	apiKey := flag.String("api-key", "", "Source API key (required)")
	actorCount := flag.Int("actors", 10, "Number of distinct actors to simulate")
	eventCount := flag.Int("events", 200, "Total number of events to send")
	anomalyRate := flag.Float64("anomaly-rate", 0.05, "Fraction of events that are deliberately anomalous")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -api-key is required")
		os.Exit(1)
	}
	if *anomalyRate < 0 || *anomalyRate > 1 {
		fmt.Fprintln(os.Stderr, "ERROR: -anomaly-rate must be in [0, 1]")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("%s/ingest/%s", *addr, *sourceKey)

	actors := make([]string, *actorCount)
	for i := range actors {
		actors[i] = fmt.Sprintf("actor-%03d@corp", i)
	}

	var sent, accepted, rejected int
	for i := 0; i < *eventCount; i++ {
		actorID := actors[rng.Intn(len(actors))]
		anomalous := rng.Float64() < *anomalyRate

		payload := buildEvent(rng, actorID, anomalous)
		body, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal event %d: %v\n", i, err)
			continue
		}

		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			fmt.Fprintf(os.Stderr, "build request %d: %v\n", i, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", *apiKey)

		resp, err := client.Do(req)
		sent++
		if err != nil {
			fmt.Fprintf(os.Stderr, "send event %d: %v\n", i, err)
			rejected++
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusAccepted {
			accepted++
		} else {
			rejected++
		}
	}

	fmt.Printf("sent=%d accepted=%d rejected=%d\n", sent, accepted, rejected)
}

func buildEvent(rng *rand.Rand, actorID string, anomalous bool) map[string]any {
	now := time.Now().UTC()
	hour := 9 + rng.Intn(9) // 9..17, the normal working window.
	ip := knownIPs[rng.Intn(len(knownIPs))]
	bytesSent := int64(1024 + rng.Intn(1024*1024))

	if anomalous {
		hour = rng.Intn(6) // off-hours
		ip = anomalousIPs[rng.Intn(len(anomalousIPs))]
		bytesSent = int64(50*1024*1024 + rng.Intn(50*1024*1024)) // volume spike range
	}

	occurredAt := time.Date(now.Year(), now.Month(), now.Day(), hour, rng.Intn(60), 0, 0, time.UTC)

	return map[string]any{
		"actorId":      actorID,
		"actorType":    "employee",
		"actionType":   actionTypes[rng.Intn(len(actionTypes))],
		"resourceType": resourceTypes[rng.Intn(len(resourceTypes))],
		"resourceId":   fmt.Sprintf("res-%04d", rng.Intn(10000)),
		"occurredAt":   occurredAt.Format(time.RFC3339),
		"ip":           ip,
		"bytes":        bytesSent,
		"outcome":      "success",
	}
}
