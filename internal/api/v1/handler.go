package v1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/strata-lab/strata/internal/event"
	"github.com/strata-lab/strata/internal/snapshot"
	"github.com/strata-lab/strata/internal/store"
)

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 1000
)

// Service wires the HTTP handlers to the tiered store, the snapshot store
// and the configured snapshot strategy.
type Service struct {
	store     store.EventStore
	snapshots snapshot.Store
	strategy  snapshot.Strategy
	maxBodyMB int
}

// NewService creates the API service. A nil strategy disables the
// snapshot-due advice on appends.
func NewService(eventStore store.EventStore, snapshots snapshot.Store, strategy snapshot.Strategy, maxBodyMB int) *Service {
	return &Service{
		store:     eventStore,
		snapshots: snapshots,
		strategy:  strategy,
		maxBodyMB: maxBodyMB,
	}
}

// RegisterRoutes attaches all v1 routes to the engine.
func (s *Service) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/streams/:id/events", s.AppendHandler)
	v1.GET("/streams/:id/events", s.LoadHandler)
	v1.GET("/streams/:id", s.StreamInfoHandler)
	v1.GET("/feed", s.FeedHandler)
	v1.PUT("/streams/:id/snapshot", s.SaveSnapshotHandler)
	v1.GET("/streams/:id/snapshot", s.LoadSnapshotHandler)
	v1.POST("/streams/:id/snapshots/cleanup", s.CleanupHandler)
}

// AppendHandler handles POST /v1/streams/:id/events.
func (s *Service) AppendHandler(c *gin.Context) {
	aggregateID := c.Param("id")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.maxBodyMB)<<20)

	var req AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeInvalidJSON,
			Message:   "Invalid JSON body",
			Details:   err.Error(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeBadRequest,
			Message:   err.Error(),
		})
		return
	}

	envelopes := make([]event.Envelope, len(req.Events))
	for i, e := range req.Events {
		envelopes[i] = event.Envelope{
			EventID:       uuid.New(),
			AggregateID:   aggregateID,
			AggregateType: req.AggregateType,
			EventType:     e.EventType,
			SchemaVersion: e.SchemaVersion,
			Payload:       e.Payload,
			Metadata:      req.Metadata,
			OccurredAt:    e.OccurredAt,
		}
	}

	newVersion, err := s.store.Append(c.Request.Context(), aggregateID, req.AggregateType, envelopes, req.ExpectedVersion)
	if err != nil {
		s.writeStoreError(c, aggregateID, err)
		return
	}

	due := s.snapshotDue(c.Request.Context(), aggregateID, newVersion, envelopes)

	slog.Info("Appended events",
		"aggregate_id", aggregateID,
		"aggregate_type", req.AggregateType,
		"events", len(envelopes),
		"new_version", newVersion,
		"snapshot_due", due)

	c.JSON(http.StatusCreated, AppendResponse{AggregateID: aggregateID, Version: newVersion, SnapshotDue: due})
}

// snapshotDue feeds the strategy with the signals of a successful append
// and reports whether the aggregate should be snapshotted. The server is
// payload-opaque and cannot fold state itself, so the decision travels back
// to the writer.
func (s *Service) snapshotDue(ctx context.Context, aggregateID string, newVersion int64, envelopes []event.Envelope) bool {
	if s.strategy == nil {
		return false
	}
	if obs, ok := s.strategy.(snapshot.Observer); ok {
		for i := range envelopes {
			obs.RecordPayload(aggregateID, len(envelopes[i].Payload))
		}
	}

	var base int64
	snap, err := s.snapshots.Load(ctx, aggregateID)
	if err != nil {
		slog.Warn("Snapshot lookup failed, skipping strategy", "aggregate_id", aggregateID, "error", err)
		return false
	}
	if snap != nil {
		base = snap.Version
	}
	return s.strategy.ShouldSnapshot(aggregateID, newVersion, newVersion-base)
}

// LoadHandler handles GET /v1/streams/:id/events with optional from, to
// and type query parameters.
func (s *Service) LoadHandler(c *gin.Context) {
	aggregateID := c.Param("id")

	from, ok := s.queryInt(c, "from", 1)
	if !ok {
		return
	}
	to, ok := s.queryInt(c, "to", 0)
	if !ok {
		return
	}

	stream, err := s.store.Load(c.Request.Context(), aggregateID, from, to)
	if err != nil {
		s.writeStoreError(c, aggregateID, err)
		return
	}

	if obs, ok := s.strategy.(snapshot.Observer); ok {
		obs.RecordAccess(aggregateID)
	}

	if types := c.Query("type"); types != "" {
		stream = stream.FilterByType(strings.Split(types, ",")...)
	}

	events := stream.Envelopes()
	if events == nil {
		events = []event.Envelope{}
	}
	c.JSON(http.StatusOK, StreamResponse{AggregateID: aggregateID, Events: events})
}

// StreamInfoHandler handles GET /v1/streams/:id.
func (s *Service) StreamInfoHandler(c *gin.Context) {
	aggregateID := c.Param("id")

	version, err := s.store.CurrentVersion(c.Request.Context(), aggregateID)
	if err != nil {
		s.writeStoreError(c, aggregateID, err)
		return
	}

	c.JSON(http.StatusOK, StreamInfoResponse{
		AggregateID: aggregateID,
		Exists:      version > 0,
		Version:     version,
	})
}

// FeedHandler handles GET /v1/feed for projections: envelopes after a
// sequence cursor, in commit order.
func (s *Service) FeedHandler(c *gin.Context) {
	after, ok := s.queryInt(c, "after", 0)
	if !ok {
		return
	}
	limit, ok := s.queryInt(c, "limit", defaultFeedLimit)
	if !ok {
		return
	}
	if limit <= 0 || limit > maxFeedLimit {
		limit = defaultFeedLimit
	}

	envelopes, err := s.store.LoadFromSequence(c.Request.Context(), after, int(limit))
	if err != nil {
		s.writeStoreError(c, "", err)
		return
	}

	next := after
	if len(envelopes) > 0 {
		next = envelopes[len(envelopes)-1].SequenceNumber
	}
	if envelopes == nil {
		envelopes = []event.Envelope{}
	}
	c.JSON(http.StatusOK, FeedResponse{Events: envelopes, NextSequence: next})
}

// SaveSnapshotHandler handles PUT /v1/streams/:id/snapshot. Writers submit
// the state they folded after a snapshot_due append; the snapshot version
// must not run ahead of the durable stream head.
func (s *Service) SaveSnapshotHandler(c *gin.Context) {
	aggregateID := c.Param("id")

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.maxBodyMB)<<20)

	var req SnapshotSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeInvalidJSON,
			Message:   "Invalid JSON body",
			Details:   err.Error(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeBadRequest,
			Message:   err.Error(),
		})
		return
	}

	head, err := s.store.CurrentVersion(c.Request.Context(), aggregateID)
	if err != nil {
		s.writeStoreError(c, aggregateID, err)
		return
	}
	if head == 0 {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorType: ErrTypeStreamMissing,
			Message:   "Stream has no events to snapshot",
		})
		return
	}
	if req.Version > head {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeBadRequest,
			Message:   fmt.Sprintf("snapshot version %d exceeds stream head %d", req.Version, head),
		})
		return
	}

	snap := event.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: req.AggregateType,
		Version:       req.Version,
		State:         req.State,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.snapshots.Save(c.Request.Context(), snap); err != nil {
		s.writeStoreError(c, aggregateID, err)
		return
	}

	slog.Info("Saved snapshot", "aggregate_id", aggregateID, "version", req.Version)
	c.Status(http.StatusNoContent)
}

// LoadSnapshotHandler handles GET /v1/streams/:id/snapshot, optionally
// bounded by a version query parameter for point-in-time restores.
func (s *Service) LoadSnapshotHandler(c *gin.Context) {
	aggregateID := c.Param("id")

	maxVersion, ok := s.queryInt(c, "version", 0)
	if !ok {
		return
	}

	var snap *event.Snapshot
	var err error
	if maxVersion > 0 {
		snap, err = s.snapshots.LoadAtVersion(c.Request.Context(), aggregateID, maxVersion)
	} else {
		snap, err = s.snapshots.Load(c.Request.Context(), aggregateID)
	}
	if err != nil {
		s.writeStoreError(c, aggregateID, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			ErrorType: ErrTypeSnapshotMissing,
			Message:   "No snapshot for this stream",
		})
		return
	}

	c.JSON(http.StatusOK, SnapshotResponse{
		AggregateID:   snap.AggregateID,
		AggregateType: snap.AggregateType,
		Version:       snap.Version,
		State:         snap.State,
		CreatedAt:     snap.CreatedAt,
	})
}

// CleanupHandler handles POST /v1/streams/:id/snapshots/cleanup for
// retention jobs.
func (s *Service) CleanupHandler(c *gin.Context) {
	aggregateID := c.Param("id")

	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeInvalidJSON,
			Message:   "Invalid JSON body",
			Details:   err.Error(),
		})
		return
	}
	if req.KeepCount <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeBadRequest,
			Message:   "keep_count must be > 0",
		})
		return
	}

	if err := s.snapshots.Cleanup(c.Request.Context(), aggregateID, req.KeepCount); err != nil {
		s.writeStoreError(c, aggregateID, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// queryInt parses an optional non-negative integer query parameter,
// writing the error response itself on failure.
func (s *Service) queryInt(c *gin.Context, name string, def int64) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeBadRequest,
			Message:   "query parameter " + name + " must be a non-negative integer",
		})
		return 0, false
	}
	return v, true
}

// writeStoreError maps store errors onto the HTTP taxonomy.
func (s *Service) writeStoreError(c *gin.Context, aggregateID string, err error) {
	var conflict *store.ConcurrencyError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			ErrorType: ErrTypeConflict,
			Message:   "Version conflict - reload and retry",
			Details: gin.H{
				"aggregate_id": conflict.AggregateID,
				"expected":     conflict.Expected,
				"actual":       conflict.Actual,
			},
		})
	case errors.Is(err, store.ErrStorageUnavailable):
		slog.Error("Storage unavailable", "aggregate_id", aggregateID, "error", err)
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			ErrorType: ErrTypeUnavailable,
			Message:   "Storage backend unavailable",
		})
	case errors.Is(err, store.ErrNoEvents):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrorType: ErrTypeBadRequest,
			Message:   "events must not be empty",
		})
	default:
		slog.Error("Request failed", "aggregate_id", aggregateID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			ErrorType: ErrTypeInternal,
			Message:   "Internal error",
		})
	}
}
