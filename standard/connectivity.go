package standard

import (
	"sort"
	"sync"
	"time"
)

// ExchangeCall represents a single request/response round trip.
type ExchangeCall struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// Exchange tracks the round trips of one kind (poll, reply, click, fetch).
type Exchange struct {
	Label string
	URL   string
	calls []ExchangeCall
}

// ConnectivityTracker records latency and failures per exchange kind over
// the last hour.
type ConnectivityTracker struct {
	mu        sync.Mutex
	exchanges map[string]*Exchange
	now       func() time.Time
}

// ExchangeStats summarises one exchange kind.
type ExchangeStats struct {
	Label        string   `json:"label"`
	URL          string   `json:"url"`
	Status       string   `json:"status"`
	LastCall     string   `json:"last_call"`
	TotalCalls   int      `json:"total_calls_1h"`
	SuccessRate  float64  `json:"success_rate_1h"`
	LatencyP50   int64    `json:"latency_ms_p50"`
	LatencyP95   int64    `json:"latency_ms_p95"`
	LatencyP99   int64    `json:"latency_ms_p99"`
	RecentErrors []string `json:"recent_errors"`
}

// NewConnectivityTracker creates a new connectivity tracker.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		exchanges: make(map[string]*Exchange),
		now:       time.Now,
	}
}

// SetTimeSource replaces the timestamp source.
func (t *ConnectivityTracker) SetTimeSource(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// TrackSuccess records a successful round trip.
func (t *ConnectivityTracker) TrackSuccess(label, url string, latency time.Duration) {
	t.track(label, url, ExchangeCall{Success: true, Latency: latency})
}

// TrackFailure records a failed round trip.
func (t *ConnectivityTracker) TrackFailure(label, url string, latency time.Duration, errorMsg string) {
	t.track(label, url, ExchangeCall{Success: false, Latency: latency, Error: errorMsg})
}

func (t *ConnectivityTracker) track(label, url string, call ExchangeCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exchange, ok := t.exchanges[label]
	if !ok {
		exchange = &Exchange{Label: label, URL: url}
		t.exchanges[label] = exchange
	}
	exchange.URL = url

	now := t.now()
	call.Timestamp = now.UTC()
	exchange.calls = append(exchange.calls, call)

	// Keep only last hour
	cutoff := now.Add(-time.Hour)
	for i, c := range exchange.calls {
		if c.Timestamp.After(cutoff) {
			exchange.calls = exchange.calls[i:]
			return
		}
	}
	exchange.calls = exchange.calls[:0]
}

// Stats returns one summary per exchange kind, sorted by label.
func (t *ConnectivityTracker) Stats() []ExchangeStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := make([]ExchangeStats, 0, len(t.exchanges))
	for _, exchange := range t.exchanges {
		if len(exchange.calls) == 0 {
			continue
		}

		var successCount int
		var lastCall time.Time
		latencies := make([]int64, 0, len(exchange.calls))
		recentErrors := make([]string, 0)

		for _, call := range exchange.calls {
			if call.Success {
				successCount++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Error)
			}
			latencies = append(latencies, call.Latency.Milliseconds())
			if call.Timestamp.After(lastCall) {
				lastCall = call.Timestamp
			}
		}

		total := len(exchange.calls)
		successRate := float64(successCount) / float64(total)
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		status := "healthy"
		if successRate < 0.9 {
			status = "unhealthy"
		} else if successRate < 0.95 {
			status = "degraded"
		}

		stats = append(stats, ExchangeStats{
			Label:        exchange.Label,
			URL:          exchange.URL,
			Status:       status,
			LastCall:     lastCall.Format(time.RFC3339),
			TotalCalls:   total,
			SuccessRate:  successRate,
			LatencyP50:   percentile(latencies, 0.50),
			LatencyP95:   percentile(latencies, 0.95),
			LatencyP99:   percentile(latencies, 0.99),
			RecentErrors: recentErrors,
		})
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Label < stats[j].Label })
	return stats
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
