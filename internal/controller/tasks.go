package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"taskhub/internal/cache"
	"taskhub/internal/metrics"
	"taskhub/internal/middleware"
	"taskhub/internal/models"
	"taskhub/internal/repository"
	"taskhub/pkg/logger"
)

// AllowedMethods is advertised on 405 responses.
const AllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"

const maxListLimit = 1000

// EventPublisher emits task change events.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.TaskEvent) error
}

// TaskHandler serves the task collection and single-task resources.
type TaskHandler struct {
	persistence Persistence
	fallback    repository.Store
	cache       *cache.ListCache
	events      EventPublisher
	metrics     *metrics.Metrics
	timeout     time.Duration
	now         func() time.Time

	lists singleflight.Group
	// gens counts local writes per owner; it scopes singleflight keys so a read
	// started after a write never joins a fetch started before it.
	gens sync.Map
}

// Deps wires a TaskHandler. Cache, Events and Metrics are optional.
type Deps struct {
	Persistence  Persistence
	Fallback     repository.Store
	Cache        *cache.ListCache
	Events       EventPublisher
	Metrics      *metrics.Metrics
	StoreTimeout time.Duration
	Now          func() time.Time
}

func NewTaskHandler(d Deps) *TaskHandler {
	if d.Fallback == nil {
		d.Fallback = repository.NewFallbackStore()
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 5 * time.Second
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &TaskHandler{
		persistence: d.Persistence,
		fallback:    d.Fallback,
		cache:       d.Cache,
		events:      d.Events,
		metrics:     d.Metrics,
		timeout:     d.StoreTimeout,
		now:         d.Now,
	}
}

// Dispatch routes a request on its method.
func (h *TaskHandler) Dispatch(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodOptions:
		c.Status(http.StatusOK)
	case http.MethodGet:
		h.List(c)
	case http.MethodPost:
		h.Create(c)
	case http.MethodPut:
		h.Update(c)
	case http.MethodDelete:
		h.Delete(c)
	default:
		c.Header("Allow", AllowedMethods)
		c.String(http.StatusMethodNotAllowed, "Method %s Not Allowed", c.Request.Method)
	}
}

type taskResponse struct {
	models.Task
	Persisted bool `json:"persisted"`
}

type statsResponse struct {
	models.TaskStats
	Persisted bool `json:"persisted"`
}

// run executes op against the real store when it is usable. A failure of the
// real store that is not caused by the request marks it unavailable and op is
// replayed on the fallback store.
func (h *TaskHandler) run(c *gin.Context, operation string, op func(ctx context.Context, s repository.Store, persisted bool) error) (bool, error) {
	reqCtx := c.Request.Context()
	if h.persistence != nil {
		if s, ok := h.persistence.Primary(reqCtx); ok {
			ctx, cancel := context.WithTimeout(reqCtx, h.timeout)
			err := op(ctx, s, true)
			cancel()
			if err == nil || isDomainErr(err) {
				return true, err
			}
			if reqCtx.Err() != nil {
				return true, reqCtx.Err()
			}
			logger.Error(reqCtx, "Store operation failed, serving from fallback", "operation", operation, "error", err)
			h.persistence.MarkUnavailable(reqCtx, err)
		}
	}
	h.metrics.Degraded(operation)
	return false, op(reqCtx, h.fallback, false)
}

func isDomainErr(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || models.IsValidationError(err)
}

func (h *TaskHandler) owner(c *gin.Context) (string, bool) {
	owner := middleware.OwnerFrom(c)
	if owner == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", false
	}
	return owner, true
}

// List returns the caller's tasks, newest first.
func (h *TaskHandler) List(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var raw []byte
	persisted, err := h.run(c, "list", func(ctx context.Context, s repository.Store, persisted bool) error {
		if !persisted {
			tasks, err := s.List(ctx, owner, filter)
			if err != nil {
				return err
			}
			raw, err = json.Marshal(tasks)
			return err
		}
		key := filter.Key()
		local := h.generation(owner).Load()
		gen, cacheable := h.cache.Generation(ctx, owner)
		if cacheable {
			if b, ok := h.cache.Get(ctx, owner, gen, key); ok {
				raw = b
				return nil
			}
		}
		flight := fmt.Sprintf("%s|%d|%d|%s", owner, local, gen, key)
		v, err, _ := h.lists.Do(flight, func() (interface{}, error) {
			fctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()
			tasks, err := s.List(fctx, owner, filter)
			if err != nil {
				return nil, err
			}
			return json.Marshal(tasks)
		})
		if err != nil {
			return err
		}
		raw = v.([]byte)
		if cacheable {
			h.cache.SetAsync(owner, gen, key, raw)
		}
		return nil
	})
	if err != nil {
		h.failStore(c, "list", err, persisted)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": json.RawMessage(raw), "persisted": persisted})
}

// Create adds a pending task for the caller.
func (h *TaskHandler) Create(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var body struct {
		Name     string `json:"name"`
		Priority string `json:"priority"`
		Category string `json:"category"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	task, err := models.NewTask(body.Name, body.Priority, body.Category, owner, h.now())
	if err != nil {
		h.fail(c, "create", err)
		return
	}

	persisted, err := h.run(c, "create", func(ctx context.Context, s repository.Store, _ bool) error {
		t := *task
		if err := s.Create(ctx, &t); err != nil {
			return err
		}
		*task = t
		return nil
	})
	if err != nil {
		h.failStore(c, "create", err, persisted)
		return
	}
	if persisted {
		h.changed(c.Request.Context(), models.EventCreated, task)
	}
	c.JSON(http.StatusCreated, taskResponse{Task: *task, Persisted: persisted})
}

// Update patches completion and/or name of one of the caller's tasks.
func (h *TaskHandler) Update(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var body struct {
		ID        string  `json:"id"`
		Completed *bool   `json:"completed"`
		Name      *string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	id := taskID(c, body.ID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task ID is required"})
		return
	}
	patch := models.TaskPatch{Completed: body.Completed, Name: body.Name}
	if err := patch.Normalize(); err != nil {
		h.fail(c, "update", err)
		return
	}

	var updated *models.Task
	persisted, err := h.run(c, "update", func(ctx context.Context, s repository.Store, _ bool) error {
		t, err := s.Update(ctx, owner, id, patch)
		updated = t
		return err
	})
	if err != nil {
		h.failStore(c, "update", err, persisted)
		return
	}
	if persisted {
		h.changed(c.Request.Context(), models.EventUpdated, updated)
	}
	c.JSON(http.StatusOK, taskResponse{Task: *updated, Persisted: persisted})
}

// Delete removes one of the caller's tasks.
func (h *TaskHandler) Delete(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var body struct {
		ID string `json:"id"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}
	id := taskID(c, body.ID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Task ID is required"})
		return
	}

	var removed *models.Task
	persisted, err := h.run(c, "delete", func(ctx context.Context, s repository.Store, _ bool) error {
		t, err := s.Delete(ctx, owner, id)
		removed = t
		return err
	})
	if err != nil {
		h.failStore(c, "delete", err, persisted)
		return
	}
	if persisted {
		h.changed(c.Request.Context(), models.EventDeleted, removed)
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Task deleted successfully",
		"id":        removed.ID.Hex(),
		"persisted": persisted,
	})
}

// Stats summarizes the caller's tasks.
func (h *TaskHandler) Stats(c *gin.Context) {
	owner, ok := h.owner(c)
	if !ok {
		return
	}
	var tasks []models.Task
	persisted, err := h.run(c, "stats", func(ctx context.Context, s repository.Store, _ bool) error {
		var err error
		tasks, err = s.List(ctx, owner, models.TaskFilter{})
		return err
	})
	if err != nil {
		h.failStore(c, "stats", err, persisted)
		return
	}
	c.JSON(http.StatusOK, statsResponse{TaskStats: models.ComputeStats(tasks), Persisted: persisted})
}

func (h *TaskHandler) generation(owner string) *atomic.Uint64 {
	v, _ := h.gens.LoadOrStore(owner, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// changed drops the owner's cached lists and announces the change.
func (h *TaskHandler) changed(ctx context.Context, action string, t *models.Task) {
	h.generation(t.Owner).Add(1)
	h.cache.Invalidate(ctx, t.Owner)
	if h.events == nil {
		return
	}
	ev := models.TaskEvent{
		Action:     action,
		TaskID:     t.ID.Hex(),
		Owner:      t.Owner,
		OccurredAt: h.now().UTC(),
	}
	if action != models.EventDeleted {
		ev.Task = t
	}
	if err := h.events.Publish(ctx, ev); err != nil {
		logger.Warn(ctx, "Task event publish failed", "action", action, "task_id", ev.TaskID, "error", err)
	}
}

// fail reports an error found before any store was consulted.
func (h *TaskHandler) fail(c *gin.Context, operation string, err error) {
	h.writeError(c, operation, err, gin.H{})
}

// failStore reports an error returned by a store. The body says which store
// answered, so a miss in the fallback store is not mistaken for a real one.
func (h *TaskHandler) failStore(c *gin.Context, operation string, err error, persisted bool) {
	h.writeError(c, operation, err, gin.H{"persisted": persisted})
}

func (h *TaskHandler) writeError(c *gin.Context, operation string, err error, body gin.H) {
	ctx := c.Request.Context()
	switch {
	case errors.Is(err, repository.ErrNotFound):
		body["error"] = "Task not found"
		c.JSON(http.StatusNotFound, body)
	case errors.Is(err, models.ErrNameRequired):
		body["error"] = "Task name is required"
		c.JSON(http.StatusBadRequest, body)
	case models.IsValidationError(err):
		body["error"] = err.Error()
		c.JSON(http.StatusBadRequest, body)
	case ctx.Err() != nil:
		// Client went away; nothing useful can be written.
		c.Status(499)
	default:
		logger.Error(ctx, "Task operation failed", "operation", operation, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// taskID resolves the target id from the path, then the query, then the body.
func taskID(c *gin.Context, fromBody string) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	if id := c.Query("taskId"); id != "" {
		return id
	}
	if id := c.Query("id"); id != "" {
		return id
	}
	return fromBody
}

func parseFilter(c *gin.Context) (models.TaskFilter, error) {
	var f models.TaskFilter
	if v := c.Query("category"); v != "" {
		cat, err := models.ParseCategory(v)
		if err != nil {
			return f, err
		}
		f.Category = cat
	}
	if v := c.Query("priority"); v != "" {
		p, err := models.ParsePriority(v)
		if err != nil {
			return f, err
		}
		f.Priority = p
	}
	if v := c.Query("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("completed must be true or false")
		}
		f.Completed = &b
	}
	f.Query = c.Query("q")
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = min(n, maxListLimit)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}
