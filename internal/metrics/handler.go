package metrics

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	httperr "github.com/rentpulse-lab/project-rentpulse/internal/core/errors"
)

// RegisterRoutes registers the metrics API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/listings/:listing_id/metrics", s.HandleGetMetrics)
	r.GET("/v1/listings/:listing_id/summary", s.HandleGetSummary)
}

// HandleGetMetrics handles GET /v1/listings/:listing_id/metrics
func (s *Service) HandleGetMetrics(c *gin.Context) {
	callerID, listingID, ok := s.authenticate(c)
	if !ok {
		return
	}

	resp, err := s.GetMetrics(c.Request.Context(), callerID, listingID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleGetSummary handles GET /v1/listings/:listing_id/summary
func (s *Service) HandleGetSummary(c *gin.Context) {
	callerID, listingID, ok := s.authenticate(c)
	if !ok {
		return
	}

	resp, err := s.GetSummary(c.Request.Context(), callerID, listingID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// authenticate runs the first two rungs of the check ladder: bearer token
// first, then path validation. It writes the error response itself when
// either fails.
func (s *Service) authenticate(c *gin.Context) (callerID, listingID string, ok bool) {
	callerID, err := s.auth.CallerID(c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnauthenticatedError,
			Message:   "Missing or invalid bearer token",
		})
		return "", "", false
	}

	listingID = c.Param("listing_id")
	if listingID == "" {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidArgumentError,
			Message:   "listing_id is required",
		})
		return "", "", false
	}

	return callerID, listingID, true
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Listing not found",
		})
	case errors.Is(err, ErrPermissionDenied):
		c.JSON(http.StatusForbidden, httperr.ErrorResponse{
			ErrorType: httperr.HttpPermissionDeniedError,
			Message:   "Caller does not own this listing",
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to load listing metrics",
		})
	}
}
