package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/notedock/tasklink/internal/engine"
	"github.com/notedock/tasklink/internal/journal"
)

// minBroadcastInterval throttles cycle summaries. Save-triggered document
// syncs can fire in quick bursts; clients only need a recent picture, not
// every cycle.
const minBroadcastInterval = 1 * time.Second

// SessionStats is the cumulative picture since the daemon started.
type SessionStats struct {
	Cycles           int           `json:"cycles"`
	TasksDiscovered  int           `json:"tasks_discovered"`
	OperationsRun    int           `json:"operations_run"`
	OperationsFailed int           `json:"operations_failed"`
	APICalls         int           `json:"api_calls"`
	Errors           int           `json:"errors"`
	TrackedEntries   int           `json:"tracked_entries"`
	LastCycleAt      time.Time     `json:"last_cycle_at"`
	LastCycleTime    time.Duration `json:"last_cycle_time"`
}

// Handler bridges engine cycle events to dashboard broadcasts and keeps the
// session-level statistics.
type Handler struct {
	server *Server
	store  *journal.Store
	logger *log.Logger

	mu          sync.Mutex
	stats       SessionStats
	lastCycleAt time.Time
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, store *journal.Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{
		server: server,
		store:  store,
		logger: logger,
	}
}

// OnCycleComplete receives one sync cycle's summary. Wire this to the
// engine's OnCycleComplete hook.
func (h *Handler) OnCycleComplete(summary engine.CycleSummary) {
	h.mu.Lock()
	h.stats.Cycles++
	h.stats.TasksDiscovered += summary.NewTasks
	h.stats.OperationsRun += summary.OperationsRun
	h.stats.OperationsFailed += summary.OperationsFailed
	h.stats.APICalls += summary.APICalls
	h.stats.Errors += summary.Errors
	h.stats.TrackedEntries = h.store.EntryCount()
	h.stats.LastCycleAt = summary.StartedAt
	h.stats.LastCycleTime = summary.Duration

	throttled := time.Since(h.lastCycleAt) < minBroadcastInterval
	if !throttled {
		h.lastCycleAt = time.Now()
	}
	stats := h.stats
	h.mu.Unlock()

	if throttled {
		return
	}

	data, err := json.Marshal(summary)
	if err != nil {
		h.logger.Printf("Failed to marshal cycle summary: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeCycle, Data: data})

	h.broadcastStats(stats)
}

// OnEngineStatus broadcasts engine lifecycle changes.
func (h *Handler) OnEngineStatus(state string) {
	data, err := json.Marshal(StatusData{State: state})
	if err != nil {
		h.logger.Printf("Failed to marshal status: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeStatus, Data: data})
}

func (h *Handler) broadcastStats(stats SessionStats) {
	data, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeStats, Data: data})
}

// Stats returns the current session statistics.
func (h *Handler) Stats() SessionStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
