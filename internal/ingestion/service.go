package ingestion

import (
	"github.com/gin-gonic/gin"
	"github.com/rentpulse-lab/project-rentpulse/internal/aggregation"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
)

type Service struct {
	store            storage.EventStore
	engine           *aggregation.Engine
	maxBodySizeBytes int

	// aggregate is the operational kill switch: when false, events are still
	// appended durably but counters are not advanced. The reconciler or a
	// later replay catches them up.
	aggregate bool
}

func NewService(store storage.EventStore, engine *aggregation.Engine, maxBodySizeMB int, aggregate bool) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if engine == nil {
		panic("ingestion: engine must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		engine:           engine,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
		aggregate:        aggregate,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	// Canonical ingestion endpoint.
	r.POST("/v1/events", s.IngestHandler)

	// Backward-compatible alias. Can be removed after clients migrate.
	r.POST("/v1/track", s.IngestHandler)
}
