package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"road-telemetry-hub/models"
)

type stats struct {
	requests atomic.Int64
	success  atomic.Int64
	failed   atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *stats) record(latency time.Duration, err error) {
	s.requests.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	s.success.Add(1)
	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	s.mu.Unlock()
}

// route walks a user along a straight line with a noisy vertical
// acceleration, the way a car crossing a bumpy road would report.
type route struct {
	userID int
	lat    float64
	lon    float64
	rng    *rand.Rand
}

func newRoute(userID int) *route {
	return &route{
		userID: userID,
		lat:    50.450173,
		lon:    30.520089,
		rng:    rand.New(rand.NewPCG(uint64(userID), uint64(time.Now().UnixNano()))),
	}
}

func (r *route) next() (models.AgentData, models.TrafficData) {
	r.lat += 0.0001 + r.rng.Float64()*0.0001
	r.lon += 0.0001 + r.rng.Float64()*0.0001
	agent := models.AgentData{
		UserID: r.userID,
		Accelerometer: models.AccelerometerData{
			X: r.rng.NormFloat64() * 0.2,
			Y: r.rng.NormFloat64() * 2,
			Z: 9.8 + r.rng.NormFloat64()*0.3,
		},
		GPS:       models.GpsData{Latitude: r.lat, Longitude: r.lon},
		Timestamp: time.Now().UTC(),
	}
	return agent, models.TrafficData{VehicleCount: r.rng.IntN(12)}
}

func main() {
	mode := flag.String("mode", "http", "http posts batches to the store API, mqtt publishes raw readings")
	target := flag.String("target", "http://localhost:8000/processed_agent_data/", "store URL or broker host:port")
	workers := flag.Int("workers", 16, "concurrent senders")
	users := flag.Int("users", 8, "distinct user ids")
	batch := flag.Int("batch", 5, "records per HTTP request")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	if *mode != "http" && *mode != "mqtt" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}

	fmt.Printf("Load Test Configuration:\n")
	fmt.Printf("  Mode:     %s\n", *mode)
	fmt.Printf("  Target:   %s\n", *target)
	fmt.Printf("  Workers:  %d\n", *workers)
	fmt.Printf("  Users:    %d\n", *users)
	fmt.Printf("  Duration: %v\n\n", *duration)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var (
		s     stats
		g     errgroup.Group
		start = time.Now()
	)
	for w := 0; w < *workers; w++ {
		r := newRoute(w%*users + 1)
		if *mode == "mqtt" {
			g.Go(func() error { return publishReadings(ctx, *target, r, &s) })
		} else {
			g.Go(func() error { return postBatches(ctx, *target, r, *batch, &s) })
		}
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "load test aborted: %v\n", err)
		os.Exit(1)
	}

	printResults(&s, time.Since(start))
}

func postBatches(ctx context.Context, url string, r *route, size int, s *stats) error {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	items := make([]models.ProcessedAgentData, size)
	for ctx.Err() == nil {
		for i := range items {
			agent, traffic := r.next()
			items[i] = models.CombinedRecord{Agent: agent, Traffic: traffic}.Classified(models.RoadNormal)
		}
		body, err := json.Marshal(items)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		begin := time.Now()
		resp, err := client.Do(req)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err = fmt.Errorf("status %d", resp.StatusCode)
			}
		}
		s.record(time.Since(begin), err)
	}
	return nil
}

func publishReadings(ctx context.Context, addr string, r *route, s *stats) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	clientID := "loadtest-" + strconv.Itoa(r.userID) + "-" + uuid.NewString()[:8]
	client := paho.NewClient(paho.ClientConfig{Conn: conn, ClientID: clientID})
	if _, err := client.Connect(ctx, &paho.Connect{ClientID: clientID, KeepAlive: 30, CleanStart: true}); err != nil {
		return err
	}
	defer client.Disconnect(&paho.Disconnect{ReasonCode: 0})

	for ctx.Err() == nil {
		agent, traffic := r.next()
		a, _ := json.Marshal(agent)
		t, _ := json.Marshal(traffic)

		begin := time.Now()
		_, err := client.Publish(ctx, &paho.Publish{Topic: "agent", QoS: 1, Payload: a})
		if err == nil {
			_, err = client.Publish(ctx, &paho.Publish{Topic: "traffic", QoS: 1, Payload: t})
		}
		if ctx.Err() != nil {
			return nil
		}
		s.record(time.Since(begin), err)
	}
	return nil
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printResults(s *stats, duration time.Duration) {
	total := s.requests.Load()
	success := s.success.Load()

	s.mu.Lock()
	lat := slices.Clone(s.latencies)
	s.mu.Unlock()
	slices.Sort(lat)

	var sum time.Duration
	for _, l := range lat {
		sum += l
	}
	var avg time.Duration
	if len(lat) > 0 {
		avg = sum / time.Duration(len(lat))
	}

	var rate float64
	if total > 0 {
		rate = float64(success) / float64(total) * 100
	}

	fmt.Println("\n==========================================")
	fmt.Println("Load Test Results")
	fmt.Println("==========================================")
	fmt.Printf("Duration:       %v\n", duration)
	fmt.Printf("Total Requests: %d\n", total)
	fmt.Printf("Successful:     %d\n", success)
	fmt.Printf("Failed:         %d\n", s.failed.Load())
	fmt.Printf("Success Rate:   %.2f%%\n", rate)
	fmt.Printf("Requests/sec:   %.2f\n", float64(total)/duration.Seconds())
	if len(lat) > 0 {
		fmt.Println("\nLatency Statistics:")
		fmt.Printf("  Min:          %v\n", lat[0])
		fmt.Printf("  Max:          %v\n", lat[len(lat)-1])
		fmt.Printf("  Average:      %v\n", avg)
		fmt.Printf("  p50:          %v\n", percentile(lat, 50))
		fmt.Printf("  p95:          %v\n", percentile(lat, 95))
		fmt.Printf("  p99:          %v\n", percentile(lat, 99))
	}
	fmt.Println("==========================================")
}
