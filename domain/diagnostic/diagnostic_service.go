package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/WVU-ASEL/glidar/pkg/processing"
)

// SimulatorMetrics is the render loop's view of itself
type SimulatorMetrics struct {
	Timestamp    time.Time `json:"timestamp"`
	RunID        string    `json:"run_id"`
	Frame        uint64    `json:"frame"` // pose timestamp of the last render
	Loops        uint64    `json:"loops"`
	Published    uint64    `json:"published"`
	Saved        uint64    `json:"saved"`
	LastPoints   int       `json:"last_points"`
	Near         float64   `json:"near"`
	Far          float64   `json:"far"`
	Degenerate   uint64    `json:"degenerate_clips"`
	SessionState string    `json:"session_state"`
	PoseSource   string    `json:"pose_source"` // "physics" or "free-running"
}

// DiagnosticService holds the latest simulator metrics for the API
type DiagnosticService struct {
	mu       sync.RWMutex
	metrics  SimulatorMetrics
	channels *processing.ChannelRegistry
	pool     *processing.ProcessingPool
}

// NewDiagnosticService creates a new diagnostic service instance.
// Either source may be nil.
func NewDiagnosticService(channels *processing.ChannelRegistry, pool *processing.ProcessingPool) *DiagnosticService {
	return &DiagnosticService{
		metrics:  SimulatorMetrics{Timestamp: time.Now()},
		channels: channels,
		pool:     pool,
	}
}

// GetMetricsHandler handles API requests for simulator metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	}
	if s.channels != nil {
		resp["channels"] = s.channels.GetChannelStats()
	}
	if s.pool != nil {
		m := s.pool.GetMetrics()
		resp["recorder"] = fiber.Map{
			"processed":      m.ProcessedCount,
			"errors":         m.ErrorCount,
			"dropped":        m.DroppedCount,
			"avg_us":         m.ProcessingTimeAvg,
			"max_us":         m.ProcessingTimeMax,
			"queue_length":   s.pool.GetQueueLength(),
			"queue_capacity": s.pool.GetQueueCapacity(),
		}
	}
	return c.JSON(resp)
}

// UpdateMetrics replaces the stored metrics
func (s *DiagnosticService) UpdateMetrics(metrics SimulatorMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = metrics
	s.metrics.Timestamp = time.Now()
}

// GetMetrics returns the current metrics
func (s *DiagnosticService) GetMetrics() SimulatorMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.metrics
}
