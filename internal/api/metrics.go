package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/projectorctl/internal/device"
	"github.com/nerrad567/projectorctl/internal/session"
)

const bytesPerMB = 1 << 20

// SystemMetrics is the GET /system/metrics body. Prometheus series are
// served separately at /metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Devices       DeviceMetrics   `json:"devices"`
	Sessions      SessionMetrics  `json:"sessions"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains websocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DeviceMetrics counts registry entries.
type DeviceMetrics struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
	ByClass map[string]int `json:"by_class"`
}

// SessionMetrics counts live sessions. Retrying is the number of sessions
// that have failed at least one connect attempt since their last Ready.
type SessionMetrics struct {
	Total    int            `json:"total"`
	ByState  map[string]int `json:"by_state"`
	Pending  int            `json:"pending"`
	Retrying int            `json:"retrying"`
}

// DatabaseMetrics contains connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       runtimeMetrics(),
		WebSocket:     WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Devices:       deviceMetrics(s.registry.List()),
		Sessions:      sessionMetrics(s.sessions.Sessions()),
		Database:      databaseMetrics(s.db),
	})
}

func runtimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(ms.Alloc) / bytesPerMB,
		MemoryTotalMB: float64(ms.TotalAlloc) / bytesPerMB,
		NumGC:         ms.NumGC,
	}
}

func deviceMetrics(devices []device.Device) DeviceMetrics {
	m := DeviceMetrics{Total: len(devices), ByState: map[string]int{}, ByClass: map[string]int{}}
	for _, d := range devices {
		m.ByState[string(d.State)]++
		m.ByClass[d.Class]++
	}
	return m
}

func sessionMetrics(infos []session.Info) SessionMetrics {
	m := SessionMetrics{Total: len(infos), ByState: map[string]int{}}
	for _, in := range infos {
		m.ByState[in.State.String()]++
		m.Pending += in.Pending
		if in.Attempts > 0 {
			m.Retrying++
		}
	}
	return m
}

func databaseMetrics(db *sql.DB) DatabaseMetrics {
	if db == nil {
		return DatabaseMetrics{}
	}
	st := db.Stats()
	return DatabaseMetrics{
		OpenConnections: st.OpenConnections,
		InUse:           st.InUse,
		Idle:            st.Idle,
		WaitCount:       st.WaitCount,
	}
}
