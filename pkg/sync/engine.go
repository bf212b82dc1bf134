package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/domain"
	"github.com/civitashq/civitas/pkg/observability"
	"github.com/civitashq/civitas/pkg/scope"
)

// DefaultBootstrapLimit caps each entity page in bootstrap and pull.
const DefaultBootstrapLimit = 100

// EntityStore is the slice of the domain store the engine replays against.
type EntityStore interface {
	ListTasks(ctx context.Context, filter scope.Filter, opts domain.ListOptions) ([]domain.Task, error)
	ListReports(ctx context.Context, filter scope.Filter, opts domain.ListOptions) ([]domain.Report, error)
	ListAlerts(ctx context.Context, filter scope.Filter, opts domain.ListOptions) ([]domain.Alert, error)
	ListPosts(ctx context.Context, filter scope.Filter, opts domain.ListOptions) ([]domain.Post, error)
	ListProjects(ctx context.Context, filter scope.Filter, opts domain.ListOptions) ([]domain.Project, error)

	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, filter scope.Filter, id string) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error

	CreateReport(ctx context.Context, report *domain.Report) error
	GetReport(ctx context.Context, filter scope.Filter, id string) (*domain.Report, error)
	UpdateReport(ctx context.Context, report *domain.Report) error

	CreateAlert(ctx context.Context, alert *domain.Alert) error
	CreatePost(ctx context.Context, post *domain.Post) error
}

// RecordKeeper persists idempotency records and conflicts.
type RecordKeeper interface {
	GetRecord(ctx context.Context, key, userID string) (*IdempotencyRecord, error)
	SaveRecord(ctx context.Context, rec *IdempotencyRecord) error
	SaveConflict(ctx context.Context, c *Conflict) error
}

// Engine executes the sync protocol against scope-filtered storage.
type Engine struct {
	entities EntityStore
	records  RecordKeeper
	audit    audit.Logger
	limit    int
}

// NewEngine creates a sync engine.
func NewEngine(entities EntityStore, records RecordKeeper, auditLogger audit.Logger) *Engine {
	return &Engine{
		entities: entities,
		records:  records,
		audit:    auditLogger,
		limit:    DefaultBootstrapLimit,
	}
}

// SetLimit overrides the per-entity page size for bootstrap and pull; zero
// and negative values are ignored.
func (e *Engine) SetLimit(limit int) {
	if limit > 0 {
		e.limit = limit
	}
}

// Bootstrap assembles the initial offline dataset: the most recently updated
// rows per entity class, all through the caller's scope filter. The returned
// timestamp is taken before the reads so the next pull cannot miss rows
// updated mid-bootstrap.
func (e *Engine) Bootstrap(ctx context.Context, filter scope.Filter) (*Snapshot, error) {
	return e.snapshot(ctx, filter, time.Time{})
}

// Pull returns rows updated strictly after since. A zero since is a
// validation error; clients must bootstrap first.
func (e *Engine) Pull(ctx context.Context, filter scope.Filter, since time.Time) (*Snapshot, error) {
	if since.IsZero() {
		return nil, apperr.NewValidationError("since", "missing or invalid timestamp")
	}
	return e.snapshot(ctx, filter, since)
}

func (e *Engine) snapshot(ctx context.Context, filter scope.Filter, since time.Time) (*Snapshot, error) {
	now := time.Now().UTC()
	opts := domain.ListOptions{Limit: e.limit, UpdatedAfter: since}

	tasks, err := e.entities.ListTasks(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot tasks: %w", err)
	}
	projects, err := e.entities.ListProjects(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot projects: %w", err)
	}
	alerts, err := e.entities.ListAlerts(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot alerts: %w", err)
	}
	reports, err := e.entities.ListReports(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot reports: %w", err)
	}
	posts, err := e.entities.ListPosts(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot posts: %w", err)
	}

	return &Snapshot{
		Tasks:     tasks,
		Projects:  projects,
		Alerts:    alerts,
		Reports:   reports,
		Posts:     posts,
		Timestamp: now,
	}, nil
}

// Push replays queued actions sequentially in array order. Per-action
// failures are recorded and the batch continues; a transport failure aborts
// the remainder and returns the partial results with Aborted set.
func (e *Engine) Push(ctx context.Context, userID string, filter scope.Filter, actions []Action) (*PushResponse, error) {
	resp := &PushResponse{Results: make([]Result, 0, len(actions))}

	for _, action := range actions {
		if action.IdempotencyKey == "" {
			resp.Results = append(resp.Results, Result{
				Status: http.StatusBadRequest,
				Error:  "idempotencyKey is required",
			})
			observability.ObserveSyncAction(string(action.Type), "rejected")
			continue
		}

		cached, err := e.records.GetRecord(ctx, action.IdempotencyKey, userID)
		if err != nil {
			if apperr.IsTransport(err) {
				resp.Aborted = true
				return resp, err
			}
			resp.Results = append(resp.Results, Result{
				IdempotencyKey: action.IdempotencyKey,
				Status:         http.StatusInternalServerError,
				Error:          "failed to check idempotency record",
			})
			observability.ObserveSyncAction(string(action.Type), "error")
			continue
		}
		if cached != nil {
			resp.Results = append(resp.Results, Result{
				IdempotencyKey: action.IdempotencyKey,
				Status:         cached.ResponseStatus,
				Body:           cached.ResponseBody,
				Error:          cached.ResponseError,
				Cached:         true,
			})
			observability.ObserveSyncAction(string(action.Type), "cached")
			continue
		}

		result := e.applyAction(ctx, userID, filter, action)
		if result.transportErr != nil {
			// The channel is broken; anything further would fail the
			// same way. The client resubmits from here.
			resp.Results = append(resp.Results, result.Result)
			resp.Aborted = true
			return resp, result.transportErr
		}

		// Only settled outcomes are recorded. An internal failure may be
		// transient, so the retry must re-execute the action instead of
		// replaying the failure.
		if result.Status < http.StatusInternalServerError {
			rec := &IdempotencyRecord{
				Key:            action.IdempotencyKey,
				UserID:         userID,
				ResponseStatus: result.Status,
				ResponseBody:   result.Body,
				ResponseError:  result.Error,
			}
			if err := e.records.SaveRecord(ctx, rec); err != nil {
				observability.GetLogger(ctx).WithError(err).
					WithField("idempotency_key", action.IdempotencyKey).
					Warn("failed to save idempotency record")
			}
		}

		resp.Results = append(resp.Results, result.Result)
		observability.ObserveSyncAction(string(action.Type), result.outcome)
	}

	e.audit.Record(ctx, audit.Entry{
		Action:   audit.ActionSyncPush,
		Entity:   "sync_batch",
		ActorID:  userID,
		Metadata: map[string]interface{}{"actions": len(actions), "results": len(resp.Results)},
	})
	return resp, nil
}

type actionResult struct {
	Result
	outcome      string
	transportErr error
}

func (e *Engine) applyAction(ctx context.Context, userID string, filter scope.Filter, action Action) actionResult {
	status, body, err := e.dispatch(ctx, userID, filter, action)
	res := actionResult{Result: Result{IdempotencyKey: action.IdempotencyKey}}

	if err == nil {
		bodyJSON, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			res.Status = http.StatusInternalServerError
			res.Error = "failed to encode result"
			res.outcome = "error"
			return res
		}
		res.Status = status
		res.Body = bodyJSON
		res.outcome = "applied"
		return res
	}

	if apperr.IsTransport(err) {
		res.Status = http.StatusServiceUnavailable
		res.Error = "transport failure"
		res.transportErr = err
		res.outcome = "error"
		return res
	}

	res.Status = statusFor(err)
	res.Error = err.Error()
	if res.Status == http.StatusConflict {
		res.outcome = "conflict"
	} else {
		res.outcome = "rejected"
	}
	return res
}

// statusFor mirrors the HTTP boundary mapping for per-action statuses inside
// a push batch.
func statusFor(err error) int {
	var (
		authErr *apperr.AuthError
		permErr *apperr.PermissionError
		valErr  *apperr.ValidationError
		wfErr   *apperr.WorkflowError
		cfErr   *apperr.ConflictError
		nfErr   *apperr.NotFoundError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &permErr):
		return http.StatusForbidden
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &wfErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &cfErr):
		return http.StatusConflict
	case errors.As(err, &nfErr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type taskPayload struct {
	ID                 string     `json:"id,omitempty"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Status             string     `json:"status,omitempty"`
	TerritoryID        *string    `json:"territoryId,omitempty"`
	BranchID           *string    `json:"branchId,omitempty"`
	AssigneeID         *string    `json:"assigneeId,omitempty"`
	DueDate            *time.Time `json:"dueDate,omitempty"`
	LastKnownUpdatedAt time.Time  `json:"lastKnownUpdatedAt,omitempty"`
}

type reportPayload struct {
	ID                 string    `json:"id,omitempty"`
	TaskID             *string   `json:"taskId,omitempty"`
	Content            string    `json:"content"`
	TerritoryID        *string   `json:"territoryId,omitempty"`
	BranchID           *string   `json:"branchId,omitempty"`
	LastKnownUpdatedAt time.Time `json:"lastKnownUpdatedAt,omitempty"`
}

type alertPayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	TerritoryID *string `json:"territoryId,omitempty"`
	BranchID    *string `json:"branchId,omitempty"`
}

type postPayload struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	TerritoryIDs []string `json:"territoryIds,omitempty"`
}

func (e *Engine) dispatch(ctx context.Context, userID string, filter scope.Filter, action Action) (int, interface{}, error) {
	switch action.Type {
	case ActionCreateTask:
		return e.createTask(ctx, userID, filter, action.Payload)
	case ActionUpdateTask:
		return e.updateTask(ctx, userID, filter, action.Payload)
	case ActionCreateReport:
		return e.createReport(ctx, userID, filter, action.Payload)
	case ActionUpdateReport:
		return e.updateReport(ctx, userID, filter, action.Payload)
	case ActionCreateAlert:
		return e.createAlert(ctx, userID, filter, action.Payload)
	case ActionCreatePost:
		return e.createPost(ctx, userID, filter, action.Payload)
	default:
		return 0, nil, apperr.NewValidationError("type", fmt.Sprintf("unknown action type %q", action.Type))
	}
}

func (e *Engine) createTask(ctx context.Context, userID string, filter scope.Filter, payload json.RawMessage) (int, interface{}, error) {
	var p taskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, nil, apperr.NewValidationError("payload", "malformed task payload")
	}
	if p.Title == "" {
		return 0, nil, apperr.NewValidationError("title", "title is required")
	}
	if !filter.AllowsTerritory(p.TerritoryID) {
		return 0, nil, apperr.NewPermissionError("", "tasks:write outside assigned scope")
	}

	task := &domain.Task{
		Title:       p.Title,
		Description: p.Description,
		TerritoryID: p.TerritoryID,
		BranchID:    p.BranchID,
		AssigneeID:  p.AssigneeID,
		DueDate:     p.DueDate,
		CreatedBy:   userID,
	}
	if err := e.entities.CreateTask(ctx, task); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, task, nil
}

func (e *Engine) updateTask(ctx context.Context, userID string, filter scope.Filter, payload json.RawMessage) (int, interface{}, error) {
	var p taskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, nil, apperr.NewValidationError("payload", "malformed task payload")
	}
	if p.ID == "" {
		return 0, nil, apperr.NewValidationError("id", "id is required")
	}

	current, err := e.entities.GetTask(ctx, filter, p.ID)
	if err != nil {
		return 0, nil, err
	}

	if conflictErr := e.checkConcurrency(ctx, userID, "task", p.ID, current.UpdatedAt, p.LastKnownUpdatedAt, payload); conflictErr != nil {
		return 0, nil, conflictErr
	}

	current.Title = p.Title
	current.Description = p.Description
	if p.Status != "" {
		current.Status = domain.TaskStatus(p.Status)
	}
	current.AssigneeID = p.AssigneeID
	current.DueDate = p.DueDate
	if err := e.entities.UpdateTask(ctx, current); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, current, nil
}

func (e *Engine) createReport(ctx context.Context, userID string, filter scope.Filter, payload json.RawMessage) (int, interface{}, error) {
	var p reportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, nil, apperr.NewValidationError("payload", "malformed report payload")
	}
	if p.Content == "" {
		return 0, nil, apperr.NewValidationError("content", "content is required")
	}
	if !filter.AllowsTerritory(p.TerritoryID) {
		return 0, nil, apperr.NewPermissionError("", "reports:write outside assigned scope")
	}

	report := &domain.Report{
		TaskID:      p.TaskID,
		Content:     p.Content,
		TerritoryID: p.TerritoryID,
		BranchID:    p.BranchID,
		CreatedBy:   userID,
	}
	if err := e.entities.CreateReport(ctx, report); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, report, nil
}

func (e *Engine) updateReport(ctx context.Context, userID string, filter scope.Filter, payload json.RawMessage) (int, interface{}, error) {
	var p reportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, nil, apperr.NewValidationError("payload", "malformed report payload")
	}
	if p.ID == "" {
		return 0, nil, apperr.NewValidationError("id", "id is required")
	}

	current, err := e.entities.GetReport(ctx, filter, p.ID)
	if err != nil {
		return 0, nil, err
	}

	if conflictErr := e.checkConcurrency(ctx, userID, "report", p.ID, current.UpdatedAt, p.LastKnownUpdatedAt, payload); conflictErr != nil {
		return 0, nil, conflictErr
	}

	current.Content = p.Content
	if err := e.entities.UpdateReport(ctx, current); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, current, nil
}

func (e *Engine) createAlert(ctx context.Context, userID string, filter scope.Filter, payload json.RawMessage) (int, interface{}, error) {
	var p alertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, nil, apperr.NewValidationError("payload", "malformed alert payload")
	}
	if p.Title == "" {
		return 0, nil, apperr.NewValidationError("title", "title is required")
	}
	if !filter.AllowsTerritory(p.TerritoryID) {
		return 0, nil, apperr.NewPermissionError("", "alerts:write outside assigned scope")
	}

	alert := &domain.Alert{
		Title:       p.Title,
		Description: p.Description,
		Severity:    domain.AlertSeverity(p.Severity),
		TerritoryID: p.TerritoryID,
		BranchID:    p.BranchID,
		CreatedBy:   userID,
	}
	if err := e.entities.CreateAlert(ctx, alert); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, alert, nil
}

func (e *Engine) createPost(ctx context.Context, userID string, filter scope.Filter, payload json.RawMessage) (int, interface{}, error) {
	var p postPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0, nil, apperr.NewValidationError("payload", "malformed post payload")
	}
	if p.Title == "" {
		return 0, nil, apperr.NewValidationError("title", "title is required")
	}
	for _, territoryID := range p.TerritoryIDs {
		id := territoryID
		if !filter.AllowsTerritory(&id) {
			return 0, nil, apperr.NewPermissionError("", "posts:write outside assigned scope")
		}
	}

	post := &domain.Post{
		Title:        p.Title,
		Body:         p.Body,
		TerritoryIDs: p.TerritoryIDs,
		Published:    true,
		CreatedBy:    userID,
	}
	if err := e.entities.CreatePost(ctx, post); err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, post, nil
}

// checkConcurrency compares the server row's updated_at against the client's
// last known value. A strictly newer server row means a concurrent edit won;
// the losing payload is persisted as a conflict and the mutation rejected.
func (e *Engine) checkConcurrency(ctx context.Context, userID, entityType, entityID string, serverUpdatedAt, lastKnown time.Time, payload json.RawMessage) error {
	if lastKnown.IsZero() {
		return apperr.NewValidationError("lastKnownUpdatedAt", "required for update actions")
	}
	if !serverUpdatedAt.After(lastKnown) {
		return nil
	}

	conflict := &Conflict{
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Data:       payload,
		Reason: fmt.Sprintf("server version %s is newer than client base %s",
			serverUpdatedAt.UTC().Format(time.RFC3339Nano), lastKnown.UTC().Format(time.RFC3339Nano)),
	}
	if err := e.records.SaveConflict(ctx, conflict); err != nil {
		observability.GetLogger(ctx).WithError(err).
			WithField("entity_id", entityID).
			Error("failed to persist conflict record")
	}
	return apperr.NewConflictError(entityType, entityID)
}
