// Package httpapi exposes the exporter's HTTP surface: the probe endpoint,
// filter discovery, health, session diagnostics, and a human-readable debug
// view.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fmcglinn/ring-exporter/pkg/geo"
	"github.com/fmcglinn/ring-exporter/pkg/log"
	"github.com/fmcglinn/ring-exporter/pkg/metrics"
	"github.com/fmcglinn/ring-exporter/pkg/nodemgr"
	"github.com/fmcglinn/ring-exporter/pkg/probe"
	"github.com/fmcglinn/ring-exporter/pkg/types"
	"github.com/fmcglinn/ring-exporter/pkg/workerpool"
)

// Server wires the exporter's roster/session state to its HTTP handlers.
type Server struct {
	manager *nodemgr.Manager
	probe   *probe.Executor
	threads int
}

// New returns a Server backed by manager and probe, fanning out /probe
// measurements across up to threads concurrent SSH sessions.
func New(manager *nodemgr.Manager, probeExecutor *probe.Executor, threads int) *Server {
	return &Server{manager: manager, probe: probeExecutor, threads: threads}
}

// Router builds the mux.Router serving every exporter endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/probe", s.handleProbe).Methods(http.MethodGet)
	r.HandleFunc("/api/filter-options", s.handleFilterOptions).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	r.HandleFunc("/debug", s.handleDebug).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

const probeLabelNode = "node"
const probeLabelTarget = "target"
const probeLabelASN = "asn"
const probeLabelCity = "city"
const probeLabelCountry = "countrycode"
const probeLabelStatus = "status"
const probeLabelContinent = "continent"
const probeLabelCompany = "company"

var probeLabelNames = []string{
	probeLabelNode, probeLabelTarget, probeLabelASN, probeLabelCity,
	probeLabelCountry, probeLabelStatus, probeLabelContinent, probeLabelCompany,
}

type probeJSONResult struct {
	Node        string   `json:"node"`
	Target      string   `json:"target"`
	ASN         string   `json:"asn"`
	City        string   `json:"city"`
	CountryCode string   `json:"countrycode"`
	Continent   string   `json:"continent"`
	Company     string   `json:"company"`
	Status      string   `json:"status"`
	RTTMin      *float64 `json:"rtt_min"`
	RTTAvg      *float64 `json:"rtt_avg"`
	RTTMax      *float64 `json:"rtt_max"`
	RTTMdev     *float64 `json:"rtt_mdev"`
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	logger := log.WithComponent("httpapi").With().Str("request_id", requestID).Logger()
	query := r.URL.Query()

	target := query.Get("target")
	if target == "" {
		metrics.ProbeRequestsTotal.WithLabelValues("400").Inc()
		http.Error(w, "Missing target parameter", http.StatusBadRequest)
		return
	}
	target = strings.TrimSpace(strings.SplitN(target, "?", 2)[0])

	if !probe.IsValidTarget(target) {
		metrics.ProbeRequestsTotal.WithLabelValues("400").Inc()
		http.Error(w, "Invalid target IP or hostname", http.StatusBadRequest)
		return
	}

	var limit *int
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			metrics.ProbeRequestsTotal.WithLabelValues("400").Inc()
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = &n
	}

	filters := make(map[string][]string)
	for _, field := range types.FilterFields {
		raw := query.Get(field)
		if raw == "" {
			continue
		}
		var values []string
		for _, v := range strings.Split(raw, ",") {
			values = append(values, strings.ToLower(strings.TrimSpace(v)))
		}
		filters[field] = values
	}

	format := query.Get("format")
	nodes := s.manager.FetchHealthy(limit, filters)

	if len(nodes) == 0 {
		metrics.ProbeRequestsTotal.WithLabelValues("503").Inc()
		if format == "json" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "No nodes with healthy SSH sessions available.",
			})
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("No nodes with healthy SSH sessions available. " +
			"The exporter may still be establishing connections.\n"))
		return
	}

	registry := prometheus.NewRegistry()
	rttMin := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "nlnog_ping_rtt_min_ms", Help: "Min RTT in ms"}, probeLabelNames)
	rttAvg := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "nlnog_ping_rtt_avg_ms", Help: "Avg RTT in ms"}, probeLabelNames)
	rttMax := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "nlnog_ping_rtt_max_ms", Help: "Max RTT in ms"}, probeLabelNames)
	rttMdev := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "nlnog_ping_rtt_mdev_ms", Help: "Mdev RTT in ms"}, probeLabelNames)
	successGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "nlnog_ping_success", Help: "Ping success (1) or failure (0)"}, probeLabelNames)
	registry.MustRegister(rttMin, rttAvg, rttMax, rttMdev, successGauge)

	var mu sync.Mutex
	var jsonResults []probeJSONResult

	workerpool.Run(r.Context(), nodes, s.threads, func(ctx context.Context, node types.Node) {
		result := s.probe.Run(ctx, node.Hostname, target)
		nodeShort := node.ShortHost()

		labels := prometheus.Labels{
			probeLabelNode:      nodeShort,
			probeLabelTarget:    target,
			probeLabelASN:       node.ASN,
			probeLabelCity:      node.City,
			probeLabelCountry:   node.CountryCode,
			probeLabelStatus:    string(result.Status),
			probeLabelContinent: node.Continent,
			probeLabelCompany:   node.Company,
		}

		if result.Status == types.ProbeOK {
			successGauge.With(labels).Set(1)
			rttMin.With(labels).Set(result.Min)
			rttAvg.With(labels).Set(result.Avg)
			rttMax.With(labels).Set(result.Max)
			rttMdev.With(labels).Set(result.Mdev)
		} else {
			successGauge.With(labels).Set(0)
		}

		s.manager.RecordLastStatus(nodeShort, types.LastProbeStatus{
			Status: result.Status, City: node.City, CountryCode: node.CountryCode,
			ASN: node.ASN, Continent: node.Continent, Company: node.Company,
		})

		if format == "json" {
			jr := probeJSONResult{
				Node: nodeShort, Target: target, ASN: node.ASN, City: node.City,
				CountryCode: node.CountryCode, Continent: node.Continent, Company: node.Company,
				Status: string(result.Status),
			}
			if result.Status == types.ProbeOK {
				jr.RTTMin, jr.RTTAvg, jr.RTTMax, jr.RTTMdev = &result.Min, &result.Avg, &result.Max, &result.Mdev
			}
			mu.Lock()
			jsonResults = append(jsonResults, jr)
			mu.Unlock()
		}
	})

	metrics.ProbeRequestsTotal.WithLabelValues("200").Inc()
	logger.Info().Str("target", target).Int("nodes", len(nodes)).Msg("probe request completed")

	if format == "json" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": jsonResults})
		return
	}

	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	nodes := s.manager.FetchHealthy(nil, nil)

	options := make(map[string]map[string]struct{}, len(types.FilterFields))
	for _, f := range types.FilterFields {
		options[f] = make(map[string]struct{})
	}
	for _, n := range nodes {
		for _, f := range types.FilterFields {
			if v := n.FilterField(f); v != "" {
				options[f][v] = struct{}{}
			}
		}
	}

	result := make(map[string]interface{}, len(types.FilterFields)+1)
	for _, f := range types.FilterFields {
		vals := make([]string, 0, len(options[f]))
		for v := range options[f] {
			vals = append(vals, v)
		}
		sort.Strings(vals)
		result[f] = vals
	}

	countryNames := make(map[string]string, len(options["countrycode"]))
	for cc := range options["countrycode"] {
		countryNames[cc] = geo.CountryName(cc)
	}
	result["countryNames"] = countryNames

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cacheSize := len(s.manager.Roster())
	health := s.manager.SessionHealthSnapshot()

	healthyCount := 0
	for _, v := range health {
		if v == nodemgr.HealthHealthy {
			healthyCount++
		}
	}

	data := map[string]interface{}{
		"node_cache_size":  cacheSize,
		"sessions_total":   len(health),
		"sessions_healthy": healthyCount,
	}

	if cacheSize > 0 && healthyCount > 0 {
		data["status"] = "healthy"
		writeJSON(w, http.StatusOK, data)
		return
	}
	data["status"] = "unhealthy"
	writeJSON(w, http.StatusServiceUnavailable, data)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	health := s.manager.SessionHealthSnapshot()

	var healthy, restarted, errored int
	nodes := make(map[string]string, len(health))
	for h, v := range health {
		nodes[h] = string(v)
		switch v {
		case nodemgr.HealthHealthy:
			healthy++
		case nodemgr.HealthRestarted:
			restarted++
		case nodemgr.HealthError:
			errored++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": map[string]int{
			"healthy":   healthy,
			"restarted": restarted,
			"error":     errored,
			"total":     len(health),
		},
		"nodes": nodes,
	})
}

var debugStatusOrder = map[string]int{"healthy": 0, "restarted": 1, "error": 2, "unknown": 3}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	nodes := s.manager.Roster()
	health := s.manager.SessionHealthSnapshot()

	grouped := make(map[string][]types.Node)
	for _, n := range nodes {
		status := "unknown"
		if st, ok := health[n.Hostname]; ok {
			status = string(st)
		}
		grouped[status] = append(grouped[status], n)
	}

	statuses := make([]string, 0, len(grouped))
	for st := range grouped {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		oi, oj := orderOrDefault(statuses[i]), orderOrDefault(statuses[j])
		if oi != oj {
			return oi < oj
		}
		return statuses[i] < statuses[j]
	})

	var b strings.Builder
	for _, status := range statuses {
		group := grouped[status]
		sort.Slice(group, func(i, j int) bool { return group[i].Hostname < group[j].Hostname })

		b.WriteString("=== " + status + " (" + strconv.Itoa(len(group)) + ") ===\n")
		for _, n := range group {
			b.WriteString(formatDebugLine(n))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(b.String()))
}

func orderOrDefault(status string) int {
	if v, ok := debugStatusOrder[status]; ok {
		return v
	}
	return 99
}

func formatDebugLine(n types.Node) string {
	company := n.Company
	if company == "" {
		company = "Unknown"
	}
	return fmt.Sprintf("%-30s [%s, %s, %s, ASN %s, %s]",
		n.ShortHost(), company, n.City, geo.CountryName(n.CountryCode), n.ASN, n.Continent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("httpapi").Error().Err(err).Msg("failed to encode JSON response")
	}
}

// Start runs an HTTP server bound to addr serving Router until ctx is
// canceled, at which point it shuts down gracefully within shutdownTimeout.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("httpapi").Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
