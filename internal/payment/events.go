package payment

import (
	"net/http"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	httperr "github.com/aevon-lab/x402-facilitator/internal/core/errors"
	"github.com/aevon-lab/x402-facilitator/internal/eventlog"
	"github.com/aevon-lab/x402-facilitator/internal/stream"
	"github.com/gin-gonic/gin"
)

type eventsPage struct {
	Data   []*v1.CloudEvent `json:"data"`
	Stream *v1.EventStream  `json:"stream,omitempty"`
}

// EventsHandler handles GET /v1/:stack/events in one of three modes:
//
//	?stream_id=billing&batch_size=50   poll and advance a named cursor
//	?last=20                           the newest events, no cursor
//	?cursor=<event id>&after_time=...  read after a position, no cursor
func (s *Service) EventsHandler(c *gin.Context) {
	scope, apiErr := parseScope(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	batchSize, apiErr := intQuery(c, "batch_size", stream.DefaultBatchSize, 1, stream.MaxBatchSize)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	ctx := c.Request.Context()

	if streamID := c.Query("stream_id"); streamID != "" {
		events, err := s.streams.Poll(ctx, streamID, scope, batchSize)
		if err != nil {
			writeError(c, mapError(err))
			return
		}
		cursor, err := s.streams.Cursor(ctx, streamID, scope)
		if err != nil {
			writeError(c, mapError(err))
			return
		}
		c.JSON(http.StatusOK, eventsPage{Data: events, Stream: cursor})
		return
	}

	if c.Query("last") != "" {
		n, apiErr := intQuery(c, "last", 0, 1, eventlog.MaxTail)
		if apiErr != nil {
			writeError(c, apiErr)
			return
		}
		events, err := s.events.ReadLast(ctx, scope, n)
		if err != nil {
			writeError(c, mapError(err))
			return
		}
		c.JSON(http.StatusOK, eventsPage{Data: events})
		return
	}

	var afterTime time.Time
	if raw := c.Query("after_time"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(c, &apiError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidRequestError,
				message:    "after_time must be an RFC 3339 timestamp",
			})
			return
		}
		afterTime = t
	}

	events, err := eventlog.Collect(s.events.ReadSince(ctx, scope, c.Query("cursor"), afterTime, batchSize))
	if err != nil {
		writeError(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, eventsPage{Data: events})
}
