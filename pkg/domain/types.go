package domain

import "time"

// TaskStatus tracks a task through its life.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "OPEN"
	TaskInProcess TaskStatus = "IN_PROCESS"
	TaskDone      TaskStatus = "DONE"
)

// Task is a unit of field work assigned within a territory. A nil
// TerritoryID marks a global task visible to everyone.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	TerritoryID *string    `json:"territory_id,omitempty"`
	BranchID    *string    `json:"branch_id,omitempty"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Report is a field report, optionally attached to a task.
type Report struct {
	ID          string    `json:"id"`
	TaskID      *string   `json:"task_id,omitempty"`
	Content     string    `json:"content"`
	TerritoryID *string   `json:"territory_id,omitempty"`
	BranchID    *string   `json:"branch_id,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AlertSeverity grades an incident.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is an incident raised from the field.
type Alert struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Severity    AlertSeverity `json:"severity"`
	TerritoryID *string       `json:"territory_id,omitempty"`
	BranchID    *string       `json:"branch_id,omitempty"`
	Resolved    bool          `json:"resolved"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Post is an announcement tagged with zero or more territories through the
// post_territories join table. An untagged post is global.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	TerritoryIDs []string  `json:"territory_ids,omitempty"`
	Published    bool      `json:"published"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Resource is distributable material, territory-tagged like posts.
type Resource struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Quantity     int       `json:"quantity"`
	TerritoryIDs []string  `json:"territory_ids,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RequestStatus is the lifecycle of a resource request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestDelivered RequestStatus = "DELIVERED"
)

// ResourceRequest asks for a quantity of a resource.
type ResourceRequest struct {
	ID          string        `json:"id"`
	ResourceID  string        `json:"resource_id"`
	Quantity    int           `json:"quantity"`
	Status      RequestStatus `json:"status"`
	RequestedBy string        `json:"requested_by"`
	DecidedBy   *string       `json:"decided_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ProjectStatus is the lifecycle of a project.
type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "DRAFT"
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
)

// Project groups tasks under a territorial initiative.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	TerritoryID *string       `json:"territory_id,omitempty"`
	BranchID    *string       `json:"branch_id,omitempty"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
