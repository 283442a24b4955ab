// Package api provides the forge HTTP handlers for courier: user
// registration and login, plus admin routes for jobs, the dead letter
// queue and queue statistics.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/job"
)

// API wires all Forge-style HTTP handlers together for courier.
type API struct {
	eng    *engine.Engine
	router forge.Router
}

// New creates an API from a courier Engine.
func New(eng *engine.Engine, router forge.Router) *API {
	return &API{eng: eng, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all courier API routes into the given Forge router
// with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerUserRoutes(router)
	a.registerJobRoutes(router)
	a.registerDLQRoutes(router)
	a.registerStatsRoutes(router)
	a.registerMaintenanceRoutes(router)
}

// registerUserRoutes registers the public account routes.
func (a *API) registerUserRoutes(router forge.Router) {
	g := router.Group("/api/users", forge.WithGroupTags("users"))

	_ = g.POST("/register", a.register,
		forge.WithSummary("Register user"),
		forge.WithDescription("Creates a user and queues a welcome email."),
		forge.WithOperationID("registerUser"),
		forge.WithRequestSchema(RegisterRequest{}),
		forge.WithCreatedResponse(RegisterResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/login", a.login,
		forge.WithSummary("Log in"),
		forge.WithDescription("Checks credentials and returns a signed token."),
		forge.WithOperationID("loginUser"),
		forge.WithRequestSchema(LoginRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Token", LoginResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerJobRoutes registers job inspection routes.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns queued jobs in FIFO order, filtered by topic and state."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job list", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns a queued job. Acknowledged jobs are removed and return 404."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)
}

// registerDLQRoutes registers dead letter queue management routes.
func (a *API) registerDLQRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("dlq"))

	_ = g.GET("/dlq", a.listDLQ,
		forge.WithSummary("List DLQ entries"),
		forge.WithDescription("Returns dead letter queue entries, newest failure last."),
		forge.WithOperationID("listDLQ"),
		forge.WithRequestSchema(ListDLQRequest{}),
		forge.WithResponseSchema(http.StatusOK, "DLQ entries", []*dlq.Entry{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/dlq/count", a.dlqCount,
		forge.WithSummary("DLQ count"),
		forge.WithDescription("Returns the number of DLQ entries."),
		forge.WithOperationID("dlqCount"),
		forge.WithResponseSchema(http.StatusOK, "DLQ count", DLQCountResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/dlq/:entryId", a.getDLQ,
		forge.WithSummary("Get DLQ entry"),
		forge.WithDescription("Returns details of a specific DLQ entry."),
		forge.WithOperationID("getDLQ"),
		forge.WithResponseSchema(http.StatusOK, "DLQ entry details", &dlq.Entry{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/dlq/:entryId/replay", a.replayDLQ,
		forge.WithSummary("Replay DLQ entry"),
		forge.WithDescription("Re-enqueues a DLQ entry as a new pending job."),
		forge.WithOperationID("replayDLQ"),
		forge.WithCreatedResponse(&job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/dlq/purge", a.purgeDLQ,
		forge.WithSummary("Purge DLQ"),
		forge.WithDescription("Removes DLQ entries older than the retention period."),
		forge.WithOperationID("purgeDLQ"),
		forge.WithResponseSchema(http.StatusOK, "Purge result", PurgeDLQResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerStatsRoutes registers aggregate statistics routes.
func (a *API) registerStatsRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	_ = g.GET("/stats", a.stats,
		forge.WithSummary("Queue stats"),
		forge.WithDescription("Returns pending, active and dead-lettered counts per topic."),
		forge.WithOperationID("queueStats"),
		forge.WithResponseSchema(http.StatusOK, "Queue statistics", StatsResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerMaintenanceRoutes registers scheduled maintenance task routes.
func (a *API) registerMaintenanceRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("maintenance"))

	_ = g.GET("/maintenance", a.maintenance,
		forge.WithSummary("Maintenance tasks"),
		forge.WithDescription("Returns scheduled maintenance tasks and whether this process runs them."),
		forge.WithOperationID("maintenanceStatus"),
		forge.WithResponseSchema(http.StatusOK, "Maintenance status", MaintenanceResponse{}),
		forge.WithErrorResponses(),
	)
}
