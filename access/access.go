// Package access implements the role-based authorization policy gating
// every job mutation. The controller is a stateless predicate evaluator:
// admins act org-wide, everyone else acts only on jobs they own, and
// viewer-role principals are read-only.
package access

import (
	"fmt"

	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
)

// Role is the coarse authorization role carried by a principal.
type Role string

const (
	// RoleAdmin may view, modify, and delete any job in its organization,
	// including force-deleting running jobs.
	RoleAdmin Role = "admin"
	// RoleContributor may view and modify its own jobs, and delete them
	// once they reach a terminal or failed state.
	RoleContributor Role = "contributor"
	// RoleViewer may only view its own jobs.
	RoleViewer Role = "viewer"
)

// Action names the mutation being authorized, used in denial messages.
type Action string

const (
	ActionCancel Action = "cancel"
	ActionRetry  Action = "retry"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Principal is the already-authenticated caller context. It is supplied
// by the identity layer; this package never constructs one.
type Principal struct {
	SubjectID   id.UserID
	OrgID       id.OrgID
	Role        Role
	Permissions []string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// DeniedError is a typed authorization denial. Reason is a descriptive
// string suitable for direct user display.
type DeniedError struct {
	Action Action
	JobID  id.JobID
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access: %s denied for job %s: %s", e.Action, e.JobID, e.Reason)
}

// Controller evaluates view/modify/delete policy for jobs. It holds no
// state and performs no I/O.
type Controller struct{}

// NewController returns a stateless access controller.
func NewController() *Controller { return &Controller{} }

// CanView reports whether the principal may read the job. Admins see
// every job in their organization; everyone else sees only their own.
func (c *Controller) CanView(j *job.Job, p Principal) bool {
	if p.IsAdmin() {
		return j.OrgID.String() == p.OrgID.String()
	}
	return j.UserID.String() == p.SubjectID.String()
}

// CanModify reports whether the principal may perform the given mutating
// action on the job. Viewers are denied regardless of ownership.
func (c *Controller) CanModify(j *job.Job, p Principal, action Action) bool {
	if p.Role == RoleViewer {
		return false
	}
	return c.CanView(j, p)
}

// CanDelete reports whether the principal may delete the job. Admins may
// force-delete in any state; non-admin owners only once the job is no
// longer queued or running.
func (c *Controller) CanDelete(j *job.Job, p Principal) bool {
	if p.Role == RoleViewer {
		return false
	}
	if p.IsAdmin() {
		return j.OrgID.String() == p.OrgID.String()
	}
	if j.UserID.String() != p.SubjectID.String() {
		return false
	}
	return deletableStatus(j.Status)
}

// deletableStatus reports whether a non-admin owner may delete a job in
// this status. Failed counts even though it is retryable.
func deletableStatus(s job.Status) bool {
	return s == job.StatusCompleted || s == job.StatusFailed || s == job.StatusCancelled
}

// RequireView is like CanView but returns a DeniedError on refusal.
func (c *Controller) RequireView(j *job.Job, p Principal) error {
	if c.CanView(j, p) {
		return nil
	}
	return &DeniedError{
		Action: "view",
		JobID:  j.ID,
		Reason: "you do not own this job and are not an organization admin",
	}
}

// RequireModify is like CanModify but returns a DeniedError on refusal.
func (c *Controller) RequireModify(j *job.Job, p Principal, action Action) error {
	if c.CanModify(j, p, action) {
		return nil
	}
	reason := "you do not own this job and are not an organization admin"
	if p.Role == RoleViewer {
		reason = "viewer role is read-only"
	}
	return &DeniedError{Action: action, JobID: j.ID, Reason: reason}
}

// RequireDelete is like CanDelete but returns a DeniedError on refusal.
func (c *Controller) RequireDelete(j *job.Job, p Principal) error {
	if c.CanDelete(j, p) {
		return nil
	}
	reason := "you do not own this job and are not an organization admin"
	switch {
	case p.Role == RoleViewer:
		reason = "viewer role is read-only"
	case j.UserID.String() == p.SubjectID.String() && !deletableStatus(j.Status):
		reason = fmt.Sprintf("job is %s; only an admin may delete a job before it finishes", j.Status)
	}
	return &DeniedError{Action: ActionDelete, JobID: j.ID, Reason: reason}
}

// Filter narrows a job listing to the principal's visible set by
// constraining the store query. Admins see the whole organization;
// everyone else sees only their own jobs.
func (c *Controller) Filter(p Principal, opts job.ListOpts) job.ListOpts {
	if p.IsAdmin() {
		opts.OrgID = p.OrgID
		opts.UserID = id.Nil
		return opts
	}
	opts.UserID = p.SubjectID
	return opts
}

// Summary describes what a principal may do with a specific job, for
// surfacing in API responses.
type Summary struct {
	CanView   bool `json:"can_view"`
	CanModify bool `json:"can_modify"`
	CanDelete bool `json:"can_delete"`
	IsOwner   bool `json:"is_owner"`
	IsAdmin   bool `json:"is_admin"`
}

// Summarize evaluates every predicate for the (job, principal) pair.
func (c *Controller) Summarize(j *job.Job, p Principal) Summary {
	return Summary{
		CanView:   c.CanView(j, p),
		CanModify: c.CanModify(j, p, ActionUpdate),
		CanDelete: c.CanDelete(j, p),
		IsOwner:   j.UserID.String() == p.SubjectID.String(),
		IsAdmin:   p.IsAdmin(),
	}
}
