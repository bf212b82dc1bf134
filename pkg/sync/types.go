package sync

import (
	"encoding/json"
	"time"

	"github.com/civitashq/civitas/pkg/domain"
)

// ActionType names a replayable client mutation.
type ActionType string

const (
	ActionCreateTask   ActionType = "CREATE_TASK"
	ActionUpdateTask   ActionType = "UPDATE_TASK"
	ActionCreateReport ActionType = "CREATE_REPORT"
	ActionUpdateReport ActionType = "UPDATE_REPORT"
	ActionCreateAlert  ActionType = "CREATE_ALERT"
	ActionCreatePost   ActionType = "CREATE_POST"
)

// Action is one queued client mutation.
type Action struct {
	Type           ActionType      `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// Result is the per-action outcome, in the same order as the request.
type Result struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         int             `json:"status"`
	Body           json.RawMessage `json:"body,omitempty"`
	Error          string          `json:"error,omitempty"`
	Cached         bool            `json:"cached"`
}

// PushRequest is the POST /sync/push body.
type PushRequest struct {
	Actions []Action `json:"actions"`
}

// PushResponse wraps the per-action results. Aborted is set when a transport
// failure stopped the batch early; the client resubmits the remainder.
type PushResponse struct {
	Results []Result `json:"results"`
	Aborted bool     `json:"aborted,omitempty"`
}

// Snapshot is the bootstrap/pull payload: one scope-filtered page per entity
// class plus the server timestamp to use as the next pull's since value.
type Snapshot struct {
	Tasks     []domain.Task    `json:"tasks"`
	Projects  []domain.Project `json:"projects"`
	Alerts    []domain.Alert   `json:"alerts"`
	Reports   []domain.Report  `json:"reports"`
	Posts     []domain.Post    `json:"posts"`
	Timestamp time.Time        `json:"timestamp"`
}

// IdempotencyRecord stores the settled outcome of an action keyed by
// (key, user). Retries short-circuit to the recorded response, error text
// included. Internal failures are never recorded.
type IdempotencyRecord struct {
	Key            string          `json:"key"`
	UserID         string          `json:"user_id"`
	ResponseStatus int             `json:"response_status"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
	ResponseError  string          `json:"response_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Conflict records an optimistic-concurrency loss for later reconciliation.
// The losing client payload is preserved verbatim.
type Conflict struct {
	ID         int64           `json:"id,omitempty"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	UserID     string          `json:"user_id"`
	Data       json.RawMessage `json:"data"`
	Reason     string          `json:"reason"`
	CreatedAt  time.Time       `json:"created_at"`
}
