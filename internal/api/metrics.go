package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/Chuffnugget/BrightDock/internal/bridges/ddc"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
	MQTT          MQTTMetrics        `json:"mqtt"`
	Node          *NodeMetrics       `json:"node,omitempty"`
	Bridge        *ddc.BridgeMetrics `json:"bridge,omitempty"`
	Coordinator   CoordinatorMetrics `json:"coordinator"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled    bool   `json:"enabled"`
	Connected  bool   `json:"connected"`
	Published  uint64 `json:"published"`
	Received   uint64 `json:"received"`
	Reconnects uint64 `json:"reconnects"`
}

// NodeMetrics contains control-surface client counters.
type NodeMetrics struct {
	URL      string `json:"url"`
	Requests uint64 `json:"requests"`
	Failures uint64 `json:"failures"`
}

// CoordinatorMetrics contains display coordinator counters.
type CoordinatorMetrics struct {
	Devices             int    `json:"devices"`
	PendingWrites       int    `json:"pending_writes"`
	WritesApplied       uint64 `json:"writes_applied"`
	WritesFailed        uint64 `json:"writes_failed"`
	PollCycles          uint64 `json:"poll_cycles"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	ReadFailures        int    `json:"read_failures"`
	Connection          string `json:"connection"`
}

// handleMetrics returns runtime, transport and coordinator metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.coord.Stats()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Coordinator: CoordinatorMetrics{
			Devices:             stats.Devices,
			PendingWrites:       stats.PendingWrites,
			WritesApplied:       stats.WritesApplied,
			WritesFailed:        stats.WritesFailed,
			PollCycles:          stats.Status.TotalCycles,
			ConsecutiveFailures: stats.Status.ConsecutiveFailures,
			ReadFailures:        stats.Status.ReadFailures,
			Connection:          stats.Status.ConnectionLabel(),
		},
	}

	if s.mqtt != nil {
		ms := s.mqtt.Stats()
		metrics.MQTT = MQTTMetrics{
			Enabled:    true,
			Connected:  s.mqtt.IsConnected(),
			Published:  ms.Published,
			Received:   ms.Received,
			Reconnects: ms.Reconnects,
		}
	}

	if s.node != nil {
		ns := s.node.Stats()
		metrics.Node = &NodeMetrics{
			URL:      s.node.URL(),
			Requests: ns.Requests,
			Failures: ns.Failures,
		}
	}

	if s.bridge != nil {
		bm := s.bridge.GetMetrics()
		metrics.Bridge = &bm
	}

	writeJSON(w, http.StatusOK, metrics)
}
