package domain

import "github.com/civitashq/civitas/pkg/apperr"

// projectTransitions is the DRAFT -> ACTIVE -> {COMPLETED, ARCHIVED} machine.
// ACTIVE may also be archived directly; terminal states have no exits.
var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectDraft:     {ProjectActive, ProjectArchived},
	ProjectActive:    {ProjectCompleted, ProjectArchived},
	ProjectCompleted: {},
	ProjectArchived:  {},
}

// requestTransitions is PENDING -> {APPROVED, REJECTED}, APPROVED ->
// DELIVERED. Approving an already-approved request is an error, not a no-op.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:   {RequestApproved, RequestRejected},
	RequestApproved:  {RequestDelivered},
	RequestRejected:  {},
	RequestDelivered: {},
}

// TransitionProject validates and applies a project status change.
func TransitionProject(p *Project, target ProjectStatus) error {
	if !transitionAllowed(projectTransitions[p.Status], target) {
		return apperr.NewWorkflowError("project", string(p.Status), string(target))
	}
	p.Status = target
	return nil
}

// TransitionRequest validates and applies a resource request status change.
func TransitionRequest(rr *ResourceRequest, target RequestStatus) error {
	if !transitionAllowed(requestTransitions[rr.Status], target) {
		return apperr.NewWorkflowError("resource_request", string(rr.Status), string(target))
	}
	rr.Status = target
	return nil
}

func transitionAllowed[S comparable](allowed []S, target S) bool {
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}
