package domain

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/civitashq/civitas/pkg/apperr"
	"github.com/civitashq/civitas/pkg/audit"
	"github.com/civitashq/civitas/pkg/auth"
	"github.com/civitashq/civitas/pkg/httputil"
	"github.com/civitashq/civitas/pkg/scope"
)

// Handlers serves the territory-scoped entity endpoints. Every read goes
// through the session's scope filter; every create is checked against the
// same filter before it writes.
type Handlers struct {
	store *Store
	guard *auth.Guard
	audit audit.Logger
}

// NewHandlers creates the domain handler group.
func NewHandlers(store *Store, guard *auth.Guard, auditLogger audit.Logger) *Handlers {
	return &Handlers{store: store, guard: guard, audit: auditLogger}
}

// RegisterRoutes registers all entity routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tasks", h.listTasks).Methods("GET")
	router.HandleFunc("/tasks", h.createTask).Methods("POST")
	router.HandleFunc("/tasks/{id}", h.getTask).Methods("GET")
	router.HandleFunc("/tasks/{id}", h.updateTask).Methods("PUT")

	router.HandleFunc("/reports", h.listReports).Methods("GET")
	router.HandleFunc("/reports", h.createReport).Methods("POST")
	router.HandleFunc("/reports/{id}", h.getReport).Methods("GET")
	router.HandleFunc("/reports/{id}", h.updateReport).Methods("PUT")

	router.HandleFunc("/alerts", h.listAlerts).Methods("GET")
	router.HandleFunc("/alerts", h.createAlert).Methods("POST")
	router.HandleFunc("/alerts/{id}/resolve", h.resolveAlert).Methods("POST")

	router.HandleFunc("/posts", h.listPosts).Methods("GET")
	router.HandleFunc("/posts", h.createPost).Methods("POST")

	router.HandleFunc("/resources", h.listResources).Methods("GET")
	router.HandleFunc("/resources", h.createResource).Methods("POST")
	router.HandleFunc("/resources/{id}/requests", h.createRequest).Methods("POST")
	router.HandleFunc("/requests/{id}/approve", h.decideRequest(RequestApproved, auth.PermResourcesApprove)).Methods("POST")
	router.HandleFunc("/requests/{id}/reject", h.decideRequest(RequestRejected, auth.PermResourcesApprove)).Methods("POST")
	router.HandleFunc("/requests/{id}/deliver", h.decideRequest(RequestDelivered, auth.PermResourcesWrite)).Methods("POST")

	router.HandleFunc("/projects", h.listProjects).Methods("GET")
	router.HandleFunc("/projects", h.createProject).Methods("POST")
	router.HandleFunc("/projects/{id}", h.getProject).Methods("GET")
	router.HandleFunc("/projects/{id}/status", h.transitionProject).Methods("POST")
}

// authorize resolves the session, checks the permission and builds the scope
// filter in one step.
func (h *Handlers) authorize(r *http.Request, perm auth.Permission) (*auth.Session, scope.Filter, error) {
	sess, err := h.guard.RequirePermission(r.Context(), auth.TokenFromRequest(r), perm)
	if err != nil {
		return nil, scope.Filter{}, err
	}
	filter, err := h.guard.ScopeForSession(r.Context(), sess, scope.DefaultOptions())
	if err != nil {
		return nil, scope.Filter{}, err
	}
	return sess, filter, nil
}

func listOptionsFromQuery(r *http.Request) (ListOptions, error) {
	var opts ListOptions
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		return opts, apperr.NewValidationError("limit", "must be an integer")
	}
	opts.Limit = limit

	after, err := httputil.ParseQueryTime(r, "updated_after")
	if err != nil {
		return opts, apperr.NewValidationError("updated_after", "must be RFC 3339")
	}
	opts.UpdatedAfter = after
	return opts, nil
}

// requireScopedTerritory rejects writes into territory the filter cannot
// see.
func requireScopedTerritory(filter scope.Filter, territoryID *string) error {
	if !filter.AllowsTerritory(territoryID) {
		return apperr.NewPermissionError("", "write outside assigned scope")
	}
	return nil
}

func requireScopedTerritories(filter scope.Filter, territoryIDs []string) error {
	for i := range territoryIDs {
		if err := requireScopedTerritory(filter, &territoryIDs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) recordChange(r *http.Request, action, entity, entityID, actorID string) {
	h.audit.Record(r.Context(), audit.Entry{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		ActorID:  actorID,
	})
}

// listTasks handles GET /tasks
func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermTasksRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	tasks, err := h.store.ListTasks(r.Context(), filter, opts)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"tasks": tasks})
}

// createTask handles POST /tasks
func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermTasksWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var task Task
	if !httputil.ParseJSONOrError(w, r, &task) {
		return
	}
	if !httputil.RequireNonEmpty(w, task.Title, "title") {
		return
	}
	if err := requireScopedTerritory(filter, task.TerritoryID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	task.ID = ""
	task.CreatedBy = sess.UserID
	if err := h.store.CreateTask(r.Context(), &task); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionCreate, "task", task.ID, sess.UserID)
	httputil.WriteCreated(w, task)
}

// getTask handles GET /tasks/{id}
func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermTasksRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	task, err := h.store.GetTask(r.Context(), filter, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, task)
}

// updateTask handles PUT /tasks/{id}
func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermTasksWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	// Visibility gates mutation: a task outside the filter reads as not
	// found, same as a read.
	task, err := h.store.GetTask(r.Context(), filter, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var req struct {
		Title       *string     `json:"title"`
		Description *string     `json:"description"`
		Status      *TaskStatus `json:"status"`
		AssigneeID  *string     `json:"assignee_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Status != nil {
		switch *req.Status {
		case TaskOpen, TaskInProcess, TaskDone:
			task.Status = *req.Status
		default:
			httputil.WriteAppError(w, r, apperr.NewValidationError("status", "unknown task status"))
			return
		}
	}
	if req.AssigneeID != nil {
		task.AssigneeID = req.AssigneeID
	}

	if err := h.store.UpdateTask(r.Context(), task); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionUpdate, "task", task.ID, sess.UserID)
	httputil.WriteSuccess(w, task)
}

// listReports handles GET /reports
func (h *Handlers) listReports(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermReportsRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	reports, err := h.store.ListReports(r.Context(), filter, opts)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"reports": reports})
}

// createReport handles POST /reports
func (h *Handlers) createReport(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermReportsWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var report Report
	if !httputil.ParseJSONOrError(w, r, &report) {
		return
	}
	if !httputil.RequireNonEmpty(w, report.Content, "content") {
		return
	}
	if err := requireScopedTerritory(filter, report.TerritoryID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	report.ID = ""
	report.CreatedBy = sess.UserID
	if err := h.store.CreateReport(r.Context(), &report); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionCreate, "report", report.ID, sess.UserID)
	httputil.WriteCreated(w, report)
}

// getReport handles GET /reports/{id}
func (h *Handlers) getReport(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermReportsRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	report, err := h.store.GetReport(r.Context(), filter, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// updateReport handles PUT /reports/{id}
func (h *Handlers) updateReport(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermReportsWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	report, err := h.store.GetReport(r.Context(), filter, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Content, "content") {
		return
	}

	report.Content = req.Content
	if err := h.store.UpdateReport(r.Context(), report); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionUpdate, "report", report.ID, sess.UserID)
	httputil.WriteSuccess(w, report)
}

// listAlerts handles GET /alerts
func (h *Handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermAlertsRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	alerts, err := h.store.ListAlerts(r.Context(), filter, opts)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"alerts": alerts})
}

// createAlert handles POST /alerts
func (h *Handlers) createAlert(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermAlertsWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var alert Alert
	if !httputil.ParseJSONOrError(w, r, &alert) {
		return
	}
	if !httputil.RequireNonEmpty(w, alert.Title, "title") {
		return
	}
	switch alert.Severity {
	case "", SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		httputil.WriteAppError(w, r, apperr.NewValidationError("severity", "unknown severity"))
		return
	}
	if err := requireScopedTerritory(filter, alert.TerritoryID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	alert.ID = ""
	alert.Resolved = false
	alert.CreatedBy = sess.UserID
	if err := h.store.CreateAlert(r.Context(), &alert); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionCreate, "alert", alert.ID, sess.UserID)
	httputil.WriteCreated(w, alert)
}

// resolveAlert handles POST /alerts/{id}/resolve
func (h *Handlers) resolveAlert(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermAlertsWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.ResolveAlert(r.Context(), filter, id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionUpdate, "alert", id, sess.UserID)
	httputil.WriteNoContent(w)
}

// listPosts handles GET /posts
func (h *Handlers) listPosts(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermPostsRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	posts, err := h.store.ListPosts(r.Context(), filter, opts)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"posts": posts})
}

// createPost handles POST /posts
func (h *Handlers) createPost(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermPostsWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var post Post
	if !httputil.ParseJSONOrError(w, r, &post) {
		return
	}
	if !httputil.RequireNonEmpty(w, post.Title, "title") {
		return
	}
	if err := requireScopedTerritories(filter, post.TerritoryIDs); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	post.ID = ""
	post.CreatedBy = sess.UserID
	if err := h.store.CreatePost(r.Context(), &post); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionCreate, "post", post.ID, sess.UserID)
	httputil.WriteCreated(w, post)
}

// listResources handles GET /resources
func (h *Handlers) listResources(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermResourcesRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	resources, err := h.store.ListResources(r.Context(), filter, opts)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"resources": resources})
}

// createResource handles POST /resources
func (h *Handlers) createResource(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermResourcesWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var resource Resource
	if !httputil.ParseJSONOrError(w, r, &resource) {
		return
	}
	if !httputil.RequireNonEmpty(w, resource.Name, "name") {
		return
	}
	if resource.Quantity < 0 {
		httputil.WriteAppError(w, r, apperr.NewValidationError("quantity", "must not be negative"))
		return
	}
	if err := requireScopedTerritories(filter, resource.TerritoryIDs); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	resource.ID = ""
	resource.CreatedBy = sess.UserID
	if err := h.store.CreateResource(r.Context(), &resource); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionCreate, "resource", resource.ID, sess.UserID)
	httputil.WriteCreated(w, resource)
}

// createRequest handles POST /resources/{id}/requests
func (h *Handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.authorize(r, auth.PermResourcesRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	resourceID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Quantity <= 0 {
		httputil.WriteAppError(w, r, apperr.NewValidationError("quantity", "must be positive"))
		return
	}

	rr := &ResourceRequest{
		ResourceID:  resourceID,
		Quantity:    req.Quantity,
		RequestedBy: sess.UserID,
	}
	if err := h.store.CreateRequest(r.Context(), rr); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionCreate, "resource_request", rr.ID, sess.UserID)
	httputil.WriteCreated(w, rr)
}

// decideRequest builds the handler for an approve, reject or deliver
// transition on a resource request.
func (h *Handlers) decideRequest(target RequestStatus, perm auth.Permission) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _, err := h.authorize(r, perm)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		id, ok := httputil.ParsePathStringOrError(w, r, "id")
		if !ok {
			return
		}

		rr, err := h.store.GetRequest(r.Context(), id)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		if err := TransitionRequest(rr, target); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}

		rr.DecidedBy = &sess.UserID
		if err := h.store.UpdateRequestStatus(r.Context(), rr); err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}

		h.recordChange(r, audit.ActionTransition, "resource_request", rr.ID, sess.UserID)
		httputil.WriteSuccess(w, rr)
	}
}

// listProjects handles GET /projects
func (h *Handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermProjectsRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	projects, err := h.store.ListProjects(r.Context(), filter, opts)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"projects": projects})
}

// createProject handles POST /projects
func (h *Handlers) createProject(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermProjectsWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var project Project
	if !httputil.ParseJSONOrError(w, r, &project) {
		return
	}
	if !httputil.RequireNonEmpty(w, project.Name, "name") {
		return
	}
	if err := requireScopedTerritory(filter, project.TerritoryID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	project.ID = ""
	project.Status = ProjectDraft
	project.CreatedBy = sess.UserID
	if err := h.store.CreateProject(r.Context(), &project); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionCreate, "project", project.ID, sess.UserID)
	httputil.WriteCreated(w, project)
}

// getProject handles GET /projects/{id}
func (h *Handlers) getProject(w http.ResponseWriter, r *http.Request) {
	_, filter, err := h.authorize(r, auth.PermProjectsRead)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	project, err := h.store.GetProject(r.Context(), filter, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, project)
}

// transitionProject handles POST /projects/{id}/status
func (h *Handlers) transitionProject(w http.ResponseWriter, r *http.Request) {
	sess, filter, err := h.authorize(r, auth.PermProjectsWrite)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Status ProjectStatus `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, string(req.Status), "status") {
		return
	}

	project, err := h.store.GetProject(r.Context(), filter, id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := TransitionProject(project, req.Status); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if err := h.store.UpdateProjectStatus(r.Context(), project); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recordChange(r, audit.ActionTransition, "project", project.ID, sess.UserID)
	httputil.WriteSuccess(w, project)
}
