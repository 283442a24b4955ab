package api

import (
	"github.com/xraph/courier/cron"
	"github.com/xraph/courier/queue"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// RegisterRequest is the body of POST /api/users/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is returned for a created user.
type RegisterResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// LoginRequest is the body of POST /api/users/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the signed access token.
type LoginResponse struct {
	Token string `json:"token"`
}

// ListJobsRequest filters GET /v1/jobs.
type ListJobsRequest struct {
	Topic  string `query:"topic"`
	State  string `query:"state"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// GetJobRequest is the (path-only) request for GET /v1/jobs/:jobId.
type GetJobRequest struct{}

// ListDLQRequest filters GET /v1/dlq.
type ListDLQRequest struct {
	Topic  string `query:"topic"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// GetDLQRequest is the (path-only) request for GET /v1/dlq/:entryId.
type GetDLQRequest struct{}

// ReplayDLQRequest is the (path-only) request for POST /v1/dlq/:entryId/replay.
type ReplayDLQRequest struct{}

// PurgeDLQResponse reports how many entries a purge removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse is the number of dead letter entries.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// StatsResponse aggregates queue statistics.
type StatsResponse struct {
	Total  queue.Stats   `json:"total"`
	Topics []queue.Stats `json:"topics"`
}

func defaultLimit(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	default:
		return n
	}
}

// MaintenanceResponse lists scheduled maintenance tasks.
type MaintenanceResponse struct {
	Leader bool          `json:"leader"`
	Tasks  []cron.Status `json:"tasks"`
}
