// Package monitor keeps an in-memory view of recent API traffic and user
// activity, exposed through the monitor plugin endpoints.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DefaultMaxHistory bounds the request ring buffer.
const DefaultMaxHistory = 10000

// RequestRecord is one observed HTTP request.
type RequestRecord struct {
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	StatusCode int     `json:"statusCode"`
	DurationMs float64 `json:"duration"`
	Timestamp  int64   `json:"timestamp"` // epoch ms
}

// EndpointStats aggregates per-endpoint request outcomes.
type EndpointStats struct {
	Count         int64   `json:"count"`
	TotalDuration float64 `json:"totalDuration"`
	MinDuration   float64 `json:"minDuration"`
	MaxDuration   float64 `json:"maxDuration"`
	Errors        int64   `json:"errors"`
	Success       int64   `json:"success"`
}

// EndpointReport is EndpointStats with derived fields for the detailed view.
type EndpointReport struct {
	Endpoint string `json:"endpoint"`
	EndpointStats
	AvgDuration float64 `json:"avgDuration"`
	ErrorRate   float64 `json:"errorRate"`
}

// UserActivity tracks a user's presence as seen by login/logout/heartbeat.
type UserActivity struct {
	Handle   string `json:"handle"`
	Name     string `json:"name"`
	Online   bool   `json:"online"`
	LoginAt  int64  `json:"loginAt,omitempty"`
	LastSeen int64  `json:"lastSeen"`
}

// Statistics is the windowed traffic summary.
type Statistics struct {
	WindowMs          int64           `json:"windowMs"`
	TotalRequests     int             `json:"totalRequests"`
	AvgDurationMs     float64         `json:"avgDuration"`
	RequestsPerSecond float64         `json:"requestsPerSecond"`
	StatusCodes       map[int]int     `json:"statusCodes"`
	Methods           map[string]int  `json:"methods"`
	TopEndpoints      []EndpointCount `json:"topEndpoints"`
}

// EndpointCount pairs an endpoint with its hit count.
type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

// DetailedStats is the all-time per-endpoint breakdown.
type DetailedStats struct {
	TotalTrackedRequests int              `json:"totalTrackedRequests"`
	Endpoints            []EndpointReport `json:"endpoints"`
	TotalEndpoints       int              `json:"totalEndpoints"`
	TotalMethods         int              `json:"totalMethods"`
}

// RequestMonitor records requests into a bounded ring plus running
// per-endpoint and per-method aggregates, and tracks user activity events.
type RequestMonitor struct {
	mu         sync.Mutex
	maxHistory int
	requests   []RequestRecord
	endpoints  map[string]*EndpointStats
	methods    map[string]int64
	users      map[string]*UserActivity
	now        func() time.Time
}

// NewRequestMonitor creates a monitor keeping at most maxHistory requests.
func NewRequestMonitor(maxHistory int) *RequestMonitor {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &RequestMonitor{
		maxHistory: maxHistory,
		endpoints:  make(map[string]*EndpointStats),
		methods:    make(map[string]int64),
		users:      make(map[string]*UserActivity),
		now:        time.Now,
	}
}

// Record stores one request observation.
func (m *RequestMonitor) Record(method, path string, statusCode int, durationMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, RequestRecord{
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		DurationMs: durationMs,
		Timestamp:  m.now().UnixMilli(),
	})
	if len(m.requests) > m.maxHistory {
		m.requests = m.requests[len(m.requests)-m.maxHistory:]
	}

	endpoint := method + " " + path
	stats, ok := m.endpoints[endpoint]
	if !ok {
		stats = &EndpointStats{MinDuration: durationMs}
		m.endpoints[endpoint] = stats
	}

	stats.Count++
	stats.TotalDuration += durationMs
	if durationMs < stats.MinDuration {
		stats.MinDuration = durationMs
	}
	if durationMs > stats.MaxDuration {
		stats.MaxDuration = durationMs
	}
	if statusCode >= 400 {
		stats.Errors++
	} else {
		stats.Success++
	}

	m.methods[method]++
}

// RecordLogin marks a user online.
func (m *RequestMonitor) RecordLogin(handle, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UnixMilli()
	m.users[handle] = &UserActivity{
		Handle:   handle,
		Name:     name,
		Online:   true,
		LoginAt:  now,
		LastSeen: now,
	}
}

// RecordLogout marks a user offline.
func (m *RequestMonitor) RecordLogout(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if activity, ok := m.users[handle]; ok {
		activity.Online = false
		activity.LastSeen = m.now().UnixMilli()
	}
}

// RecordActivity refreshes a user's last-seen time, marking them online.
func (m *RequestMonitor) RecordActivity(handle, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	activity, ok := m.users[handle]
	if !ok {
		activity = &UserActivity{Handle: handle}
		m.users[handle] = activity
	}
	if name != "" {
		activity.Name = name
	}
	activity.Online = true
	activity.LastSeen = m.now().UnixMilli()
}

// ActiveUsers returns a snapshot of tracked user activity.
func (m *RequestMonitor) ActiveUsers() []UserActivity {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]UserActivity, 0, len(m.users))
	for _, activity := range m.users {
		users = append(users, *activity)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Handle < users[j].Handle })
	return users
}

// Statistics summarizes traffic within the trailing window.
func (m *RequestMonitor) Statistics(window time.Duration) Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window).UnixMilli()

	stats := Statistics{
		WindowMs:    window.Milliseconds(),
		StatusCodes: make(map[int]int),
		Methods:     make(map[string]int),
	}

	endpointCounts := make(map[string]int)
	var totalDuration float64

	for _, r := range m.requests {
		if r.Timestamp < cutoff {
			continue
		}
		stats.TotalRequests++
		totalDuration += r.DurationMs
		stats.StatusCodes[r.StatusCode]++
		stats.Methods[r.Method]++
		endpointCounts[r.Method+" "+r.Path]++
	}

	if stats.TotalRequests > 0 {
		stats.AvgDurationMs = totalDuration / float64(stats.TotalRequests)
	}
	if seconds := window.Seconds(); seconds > 0 {
		stats.RequestsPerSecond = float64(stats.TotalRequests) / seconds
	}

	for endpoint, count := range endpointCounts {
		stats.TopEndpoints = append(stats.TopEndpoints, EndpointCount{Endpoint: endpoint, Count: count})
	}
	sort.Slice(stats.TopEndpoints, func(i, j int) bool {
		if stats.TopEndpoints[i].Count != stats.TopEndpoints[j].Count {
			return stats.TopEndpoints[i].Count > stats.TopEndpoints[j].Count
		}
		return stats.TopEndpoints[i].Endpoint < stats.TopEndpoints[j].Endpoint
	})
	if len(stats.TopEndpoints) > 10 {
		stats.TopEndpoints = stats.TopEndpoints[:10]
	}

	return stats
}

// Detailed returns the all-time per-endpoint breakdown, busiest first.
func (m *RequestMonitor) Detailed() DetailedStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	reports := make([]EndpointReport, 0, len(m.endpoints))
	for endpoint, stats := range m.endpoints {
		report := EndpointReport{
			Endpoint:      endpoint,
			EndpointStats: *stats,
		}
		if stats.Count > 0 {
			report.AvgDuration = stats.TotalDuration / float64(stats.Count)
			report.ErrorRate = float64(stats.Errors) / float64(stats.Count) * 100
		}
		reports = append(reports, report)
	}

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Count != reports[j].Count {
			return reports[i].Count > reports[j].Count
		}
		return reports[i].Endpoint < reports[j].Endpoint
	})
	if len(reports) > 50 {
		reports = reports[:50]
	}

	return DetailedStats{
		TotalTrackedRequests: len(m.requests),
		Endpoints:            reports,
		TotalEndpoints:       len(m.endpoints),
		TotalMethods:         len(m.methods),
	}
}

// Recent returns up to limit requests, newest first.
func (m *RequestMonitor) Recent(limit int) []RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.requests) {
		limit = len(m.requests)
	}

	recent := make([]RequestRecord, limit)
	for i := 0; i < limit; i++ {
		recent[i] = m.requests[len(m.requests)-1-i]
	}
	return recent
}

// TrackedRequests returns the current ring size.
func (m *RequestMonitor) TrackedRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// TrackedEndpoints returns the number of distinct endpoints seen.
func (m *RequestMonitor) TrackedEndpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints)
}

// Clear drops all recorded requests and aggregates. User activity is kept.
func (m *RequestMonitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = nil
	m.endpoints = make(map[string]*EndpointStats)
	m.methods = make(map[string]int64)
}

// WithClock overrides the internal clock, used in tests.
func (m *RequestMonitor) WithClock(clock func() time.Time) {
	if clock != nil {
		m.now = clock
	}
}

// Middleware records every request passing through it.
func Middleware(m *RequestMonitor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		m.Record(c.Method(), path, c.Response().StatusCode(), float64(time.Since(start).Microseconds())/1000)

		return err
	}
}
