package domain

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/scope"
)

// PostJoin describes the post territory tagging table for scope filters.
var PostJoin = &scope.JoinSpec{Table: "post_territories", EntityColumn: "post_id", TerritoryColumn: "territory_id"}

// ResourceJoin describes the resource territory tagging table.
var ResourceJoin = &scope.JoinSpec{Table: "resource_territories", EntityColumn: "resource_id", TerritoryColumn: "territory_id"}

// ListOptions narrows list queries. Zero values are ignored.
type ListOptions struct {
	Limit        int
	UpdatedAfter time.Time
}

// Store persists domain entities in PostgreSQL. Every read and the
// visibility side of every write go through a scope.Filter.
type Store struct {
	db *sql.DB
}

// NewStore creates the domain store and ensures its tables exist.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &Store{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure domain tables: %w", err)
	}
	return s, nil
}

func (s *Store) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'OPEN',
		territory_id UUID,
		branch_id UUID,
		assignee_id UUID,
		due_date TIMESTAMP WITH TIME ZONE,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS reports (
		id UUID PRIMARY KEY,
		task_id UUID,
		content TEXT NOT NULL,
		territory_id UUID,
		branch_id UUID,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		severity VARCHAR(20) NOT NULL DEFAULT 'INFO',
		territory_id UUID,
		branch_id UUID,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS posts (
		id UUID PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		body TEXT NOT NULL,
		published BOOLEAN NOT NULL DEFAULT TRUE,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS post_territories (
		post_id UUID NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		territory_id UUID NOT NULL,
		PRIMARY KEY (post_id, territory_id)
	);

	CREATE TABLE IF NOT EXISTS resources (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS resource_territories (
		resource_id UUID NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		territory_id UUID NOT NULL,
		PRIMARY KEY (resource_id, territory_id)
	);

	CREATE TABLE IF NOT EXISTS resource_requests (
		id UUID PRIMARY KEY,
		resource_id UUID NOT NULL REFERENCES resources(id),
		quantity INTEGER NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		requested_by UUID NOT NULL,
		decided_by UUID,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'DRAFT',
		territory_id UUID,
		branch_id UUID,
		created_by UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_territory_id ON tasks(territory_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_reports_updated_at ON reports(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_alerts_updated_at ON alerts(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_posts_updated_at ON posts(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects(updated_at DESC);
	`

	_, err := s.db.Exec(query)
	return err
}

func appendListClauses(query string, args []interface{}, alias string, opts ListOptions) (string, []interface{}) {
	if !opts.UpdatedAfter.IsZero() {
		args = append(args, opts.UpdatedAfter)
		query += fmt.Sprintf(" AND %s.updated_at > $%d", alias, len(args))
	}
	query += fmt.Sprintf(" ORDER BY %s.updated_at DESC", alias)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// CreateTask inserts a task.
func (s *Store) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskOpen
	}

	query := `
		INSERT INTO tasks (id, title, description, status, territory_id, branch_id, assignee_id, due_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		task.ID, task.Title, task.Description, task.Status,
		task.TerritoryID, task.BranchID, task.AssigneeID, task.DueDate, task.CreatedBy,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

const taskColumns = `t.id, t.title, t.description, t.status, t.territory_id, t.branch_id, t.assignee_id, t.due_date, t.created_by, t.created_at, t.updated_at`

func scanTask(scanner interface{ Scan(...interface{}) error }) (*Task, error) {
	var task Task
	err := scanner.Scan(&task.ID, &task.Title, &task.Description, &task.Status,
		&task.TerritoryID, &task.BranchID, &task.AssigneeID, &task.DueDate,
		&task.CreatedBy, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches a task visible to the filter.
func (s *Store) GetTask(ctx context.Context, filter scope.Filter, id string) (*Task, error) {
	where, args := filter.SQL("t", nil, 0)
	args = append(args, id)
	query := fmt.Sprintf(`SELECT %s FROM tasks t WHERE %s AND t.id = $%d`, taskColumns, where, len(args))

	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch task: %w", err)
	}
	return task, nil
}

// UpdateTask rewrites the mutable task fields.
func (s *Store) UpdateTask(ctx context.Context, task *Task) error {
	query := `
		UPDATE tasks
		SET title = $1, description = $2, status = $3, assignee_id = $4, due_date = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		task.Title, task.Description, task.Status, task.AssigneeID, task.DueDate, task.ID,
	).Scan(&task.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFoundError("task", task.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// ListTasks returns tasks visible to the filter, newest update first.
func (s *Store) ListTasks(ctx context.Context, filter scope.Filter, opts ListOptions) ([]Task, error) {
	where, args := filter.SQL("t", nil, 0)
	query := fmt.Sprintf(`SELECT %s FROM tasks t WHERE %s`, taskColumns, where)
	query, args = appendListClauses(query, args, "t", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// CreateReport inserts a report.
func (s *Store) CreateReport(ctx context.Context, report *Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	query := `
		INSERT INTO reports (id, task_id, content, territory_id, branch_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		report.ID, report.TaskID, report.Content, report.TerritoryID, report.BranchID, report.CreatedBy,
	).Scan(&report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

const reportColumns = `r.id, r.task_id, r.content, r.territory_id, r.branch_id, r.created_by, r.created_at, r.updated_at`

func scanReport(scanner interface{ Scan(...interface{}) error }) (*Report, error) {
	var report Report
	err := scanner.Scan(&report.ID, &report.TaskID, &report.Content,
		&report.TerritoryID, &report.BranchID, &report.CreatedBy,
		&report.CreatedAt, &report.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetReport fetches a report visible to the filter.
func (s *Store) GetReport(ctx context.Context, filter scope.Filter, id string) (*Report, error) {
	where, args := filter.SQL("r", nil, 0)
	args = append(args, id)
	query := fmt.Sprintf(`SELECT %s FROM reports r WHERE %s AND r.id = $%d`, reportColumns, where, len(args))

	report, err := scanReport(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("report", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	return report, nil
}

// UpdateReport rewrites the report content.
func (s *Store) UpdateReport(ctx context.Context, report *Report) error {
	query := `
		UPDATE reports SET content = $1, updated_at = NOW() WHERE id = $2
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query, report.Content, report.ID).Scan(&report.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFoundError("report", report.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	return nil
}

// ListReports returns reports visible to the filter.
func (s *Store) ListReports(ctx context.Context, filter scope.Filter, opts ListOptions) ([]Report, error) {
	where, args := filter.SQL("r", nil, 0)
	query := fmt.Sprintf(`SELECT %s FROM reports r WHERE %s`, reportColumns, where)
	query, args = appendListClauses(query, args, "r", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

// CreateAlert inserts an alert.
func (s *Store) CreateAlert(ctx context.Context, alert *Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Severity == "" {
		alert.Severity = SeverityInfo
	}

	query := `
		INSERT INTO alerts (id, title, description, severity, territory_id, branch_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		alert.ID, alert.Title, alert.Description, alert.Severity,
		alert.TerritoryID, alert.BranchID, alert.CreatedBy,
	).Scan(&alert.CreatedAt, &alert.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

const alertColumns = `a.id, a.title, a.description, a.severity, a.territory_id, a.branch_id, a.resolved, a.created_by, a.created_at, a.updated_at`

func scanAlert(scanner interface{ Scan(...interface{}) error }) (*Alert, error) {
	var alert Alert
	err := scanner.Scan(&alert.ID, &alert.Title, &alert.Description, &alert.Severity,
		&alert.TerritoryID, &alert.BranchID, &alert.Resolved,
		&alert.CreatedBy, &alert.CreatedAt, &alert.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ResolveAlert marks an alert resolved if the filter can see it.
func (s *Store) ResolveAlert(ctx context.Context, filter scope.Filter, id string) error {
	where, args := filter.SQL("a", nil, 0)
	args = append(args, id)
	query := fmt.Sprintf(`
		UPDATE alerts a SET resolved = TRUE, updated_at = NOW()
		WHERE %s AND a.id = $%d`, where, len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NewNotFoundError("alert", id)
	}
	return nil
}

// ListAlerts returns alerts visible to the filter.
func (s *Store) ListAlerts(ctx context.Context, filter scope.Filter, opts ListOptions) ([]Alert, error) {
	where, args := filter.SQL("a", nil, 0)
	query := fmt.Sprintf(`SELECT %s FROM alerts a WHERE %s`, alertColumns, where)
	query, args = appendListClauses(query, args, "a", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

// CreatePost inserts a post and its territory tags in one transaction.
func (s *Store) CreatePost(ctx context.Context, post *Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO posts (id, title, body, published, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		post.ID, post.Title, post.Body, post.Published, post.CreatedBy,
	).Scan(&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}

	for _, territoryID := range post.TerritoryIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_territories (post_id, territory_id) VALUES ($1, $2)`,
			post.ID, territoryID); err != nil {
			return fmt.Errorf("failed to tag post territory: %w", err)
		}
	}

	return tx.Commit()
}

// ListPosts returns posts visible to the filter, with their territory tags.
func (s *Store) ListPosts(ctx context.Context, filter scope.Filter, opts ListOptions) ([]Post, error) {
	where, args := filter.SQL("p", PostJoin, 0)
	query := fmt.Sprintf(`
		SELECT p.id, p.title, p.body, p.published, p.created_by, p.created_at, p.updated_at,
		       COALESCE(ARRAY_AGG(pt.territory_id) FILTER (WHERE pt.territory_id IS NOT NULL), '{}') AS territory_ids
		FROM posts p
		LEFT JOIN post_territories pt ON pt.post_id = p.id
		WHERE %s
		GROUP BY p.id`, where)

	if !opts.UpdatedAfter.IsZero() {
		args = append(args, opts.UpdatedAfter)
		query = fmt.Sprintf(`SELECT * FROM (%s) sub WHERE sub.updated_at > $%d`, query, len(args))
	}
	query += " ORDER BY updated_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var post Post
		var tags pq.StringArray
		if err := rows.Scan(&post.ID, &post.Title, &post.Body, &post.Published,
			&post.CreatedBy, &post.CreatedAt, &post.UpdatedAt, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		post.TerritoryIDs = tags
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CreateResource inserts a resource and its territory tags.
func (s *Store) CreateResource(ctx context.Context, resource *Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO resources (id, name, description, quantity, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		resource.ID, resource.Name, resource.Description, resource.Quantity, resource.CreatedBy,
	).Scan(&resource.CreatedAt, &resource.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert resource: %w", err)
	}

	for _, territoryID := range resource.TerritoryIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO resource_territories (resource_id, territory_id) VALUES ($1, $2)`,
			resource.ID, territoryID); err != nil {
			return fmt.Errorf("failed to tag resource territory: %w", err)
		}
	}

	return tx.Commit()
}

// ListResources returns resources visible to the filter.
func (s *Store) ListResources(ctx context.Context, filter scope.Filter, opts ListOptions) ([]Resource, error) {
	where, args := filter.SQL("r", ResourceJoin, 0)
	query := fmt.Sprintf(`
		SELECT r.id, r.name, r.description, r.quantity, r.created_by, r.created_at, r.updated_at,
		       COALESCE(ARRAY_AGG(rt.territory_id) FILTER (WHERE rt.territory_id IS NOT NULL), '{}') AS territory_ids
		FROM resources r
		LEFT JOIN resource_territories rt ON rt.resource_id = r.id
		WHERE %s
		GROUP BY r.id
		ORDER BY r.updated_at DESC`, where)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []Resource
	for rows.Next() {
		var resource Resource
		var tags pq.StringArray
		if err := rows.Scan(&resource.ID, &resource.Name, &resource.Description, &resource.Quantity,
			&resource.CreatedBy, &resource.CreatedAt, &resource.UpdatedAt, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resource.TerritoryIDs = tags
		resources = append(resources, resource)
	}
	return resources, rows.Err()
}

// CreateRequest inserts a resource request in PENDING.
func (s *Store) CreateRequest(ctx context.Context, rr *ResourceRequest) error {
	if rr.ID == "" {
		rr.ID = uuid.NewString()
	}
	rr.Status = RequestPending

	query := `
		INSERT INTO resource_requests (id, resource_id, quantity, status, requested_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		rr.ID, rr.ResourceID, rr.Quantity, rr.Status, rr.RequestedBy,
	).Scan(&rr.CreatedAt, &rr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert resource request: %w", err)
	}
	return nil
}

// GetRequest fetches a resource request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*ResourceRequest, error) {
	query := `
		SELECT id, resource_id, quantity, status, requested_by, decided_by, created_at, updated_at
		FROM resource_requests WHERE id = $1
	`
	var rr ResourceRequest
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rr.ID, &rr.ResourceID, &rr.Quantity, &rr.Status,
		&rr.RequestedBy, &rr.DecidedBy, &rr.CreatedAt, &rr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("resource_request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resource request: %w", err)
	}
	return &rr, nil
}

// UpdateRequestStatus persists a workflow transition already validated by
// TransitionRequest.
func (s *Store) UpdateRequestStatus(ctx context.Context, rr *ResourceRequest) error {
	query := `
		UPDATE resource_requests SET status = $1, decided_by = $2, updated_at = NOW() WHERE id = $3
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query, rr.Status, rr.DecidedBy, rr.ID).Scan(&rr.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFoundError("resource_request", rr.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update resource request: %w", err)
	}
	return nil
}

// CreateProject inserts a project in DRAFT.
func (s *Store) CreateProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.Status == "" {
		project.Status = ProjectDraft
	}

	query := `
		INSERT INTO projects (id, name, description, status, territory_id, branch_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		project.ID, project.Name, project.Description, project.Status,
		project.TerritoryID, project.BranchID, project.CreatedBy,
	).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

const projectColumns = `p.id, p.name, p.description, p.status, p.territory_id, p.branch_id, p.created_by, p.created_at, p.updated_at`

func scanProject(scanner interface{ Scan(...interface{}) error }) (*Project, error) {
	var project Project
	err := scanner.Scan(&project.ID, &project.Name, &project.Description, &project.Status,
		&project.TerritoryID, &project.BranchID, &project.CreatedBy,
		&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProject fetches a project visible to the filter.
func (s *Store) GetProject(ctx context.Context, filter scope.Filter, id string) (*Project, error) {
	where, args := filter.SQL("p", nil, 0)
	args = append(args, id)
	query := fmt.Sprintf(`SELECT %s FROM projects p WHERE %s AND p.id = $%d`, projectColumns, where, len(args))

	project, err := scanProject(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperr.NewNotFoundError("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch project: %w", err)
	}
	return project, nil
}

// UpdateProjectStatus persists a workflow transition already validated by
// TransitionProject.
func (s *Store) UpdateProjectStatus(ctx context.Context, project *Project) error {
	query := `
		UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2
		RETURNING updated_at
	`
	err := s.db.QueryRowContext(ctx, query, project.Status, project.ID).Scan(&project.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperr.NewNotFoundError("project", project.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// ListProjects returns projects visible to the filter.
func (s *Store) ListProjects(ctx context.Context, filter scope.Filter, opts ListOptions) ([]Project, error) {
	where, args := filter.SQL("p", nil, 0)
	query := fmt.Sprintf(`SELECT %s FROM projects p WHERE %s`, projectColumns, where)
	query, args = appendListClauses(query, args, "p", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}
