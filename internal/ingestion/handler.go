package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	v1 "github.com/rentpulse-lab/project-rentpulse/internal/api/v1"
	httperr "github.com/rentpulse-lab/project-rentpulse/internal/core/errors"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist event"
)

// ingestionError carries the structured HTTP error shape from a helper back
// to the orchestrator. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for event ingestion.
//
// A parseable event is always answered 202: "accepted" when it was appended
// and routed to aggregation, "dropped" when validation rejected it. Dropped
// events have zero side effects. Only an unreadable or unparseable body is a
// client error.
func (s *Service) IngestHandler(c *gin.Context) {
	evt, payloadSize, err := s.parseEvent(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if vErr := evt.Validate(); vErr != nil {
		slog.Warn("Event dropped at ingestion",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"reason", vErr.Error())
		c.JSON(http.StatusAccepted, gin.H{"status": "dropped", "reason": vErr.Error()})
		return
	}

	slog.Info("Received Event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"listing_id", evt.ListingID,
		"payload_size", payloadSize)

	duplicate, pErr := s.persistEvent(c, evt)
	if pErr != nil {
		writeError(c, pErr)
		return
	}

	// A redelivered SEARCH event has no dedup marker, so reapplying it would
	// double count filter usage. Every other type is guarded by markers and
	// reapplies idempotently.
	if !s.aggregate || (duplicate && evt.Type == v1.TypeSearch) {
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	if _, aErr := s.engine.Apply(c.Request.Context(), evt); aErr != nil {
		// The raw event is durable; counters catch up on redelivery or via
		// the snapshot reconciler. Never fail the producer for this.
		slog.Error("Failed to apply event to counters",
			"error", aErr,
			"event_id", evt.ID,
			"event_type", evt.Type)
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// parseEvent reads the raw request body and binds it into an Event struct.
// Returns the parsed event and the raw payload size (used for structured
// logging upstream).
func (s *Service) parseEvent(c *gin.Context) (*v1.Event, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	// Check if body exceeds maximum size
	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var evt v1.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	// set IngestedAt to be the time we receive the request
	evt.IngestedAt = time.Now().UTC()
	return &evt, len(bodyBytes), nil
}

// persistEvent appends the event to the log. A duplicate id is not an error:
// the caller decides whether aggregation still runs.
func (s *Service) persistEvent(c *gin.Context, evt *v1.Event) (duplicate bool, _ *ingestionError) {
	if err := s.store.SaveEvent(c.Request.Context(), evt); err != nil {
		if errors.Is(err, storage.ErrDuplicateEvent) {
			slog.Info("Duplicate event id, treating as redelivery",
				"event_id", evt.ID,
				"event_type", evt.Type)
			return true, nil
		}

		slog.Error("Failed to persist event", "error", err, "event_id", evt.ID)
		return false, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}

	return false, nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
