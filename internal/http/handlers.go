package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// handleReady checks templates, the local database and the dues source.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})
	notReady := func(name string, err error) {
		checks[name] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	if s.templates == nil {
		notReady("templates", fmt.Errorf("templates not loaded"))
	} else {
		checks["templates"] = "ok"
	}

	if s.storage != nil {
		if err := s.storage.Ping(ctx); err != nil {
			notReady("storage", err)
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not_configured"
	}

	if periods, err := s.dues.Periods(ctx); err != nil {
		notReady("dues_source", err)
	} else {
		checks["dues_source"] = map[string]interface{}{
			"periods": len(periods),
			"status":  "ok",
		}
	}

	cs := s.dues.CacheStatus()
	checks["cache"] = map[string]interface{}{
		"loaded":  cs.Loaded,
		"expired": cs.Expired,
		"sheets":  cs.Sheets,
		"status":  "ok",
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}

	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(response)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()
	lookups := s.appMetrics.lookupCounts()
	cs := s.dues.CacheStatus()
	uptime := time.Since(s.appMetrics.uptime)

	subscribers := 0
	if s.hub != nil {
		subscribers = s.hub.Subscribers()
	}

	w.WriteHeader(http.StatusOK)

	// Write metrics in Prometheus-like format
	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_server_errors_total Responses with a 5xx status\n")
	fmt.Fprintf(w, "# TYPE http_server_errors_total counter\n")
	fmt.Fprintf(w, "http_server_errors_total %d\n\n", traceMetrics.ServerErrors)

	fmt.Fprintf(w, "# HELP http_response_time_avg_seconds Average response time\n")
	fmt.Fprintf(w, "# TYPE http_response_time_avg_seconds gauge\n")
	fmt.Fprintf(w, "http_response_time_avg_seconds %.6f\n\n", traceMetrics.AverageResponseTime.Seconds())

	fmt.Fprintf(w, "# HELP dues_lookups_total Student lookups by result\n")
	fmt.Fprintf(w, "# TYPE dues_lookups_total counter\n")
	results := make([]string, 0, len(lookups))
	for k := range lookups {
		results = append(results, k)
	}
	sort.Strings(results)
	for _, k := range results {
		fmt.Fprintf(w, "dues_lookups_total{result=%q} %d\n", k, lookups[k])
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP dues_sheets_loaded Monthly sheets in the cache\n")
	fmt.Fprintf(w, "# TYPE dues_sheets_loaded gauge\n")
	fmt.Fprintf(w, "dues_sheets_loaded %d\n\n", cs.Sheets)

	fmt.Fprintf(w, "# HELP chat_stream_subscribers Connected event streams\n")
	fmt.Fprintf(w, "# TYPE chat_stream_subscribers gauge\n")
	fmt.Fprintf(w, "chat_stream_subscribers %d\n\n", subscribers)

	fmt.Fprintf(w, "# HELP rate_limit_rejected_total Requests rejected by the rate limiter\n")
	fmt.Fprintf(w, "# TYPE rate_limit_rejected_total counter\n")
	fmt.Fprintf(w, "rate_limit_rejected_total %d\n\n", rateLimitMetrics.Rejected)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n\n", uptime.Seconds())
}
