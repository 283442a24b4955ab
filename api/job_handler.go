package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

func (a *API) listJobs(ctx forge.Context, req *ListJobsRequest) ([]*job.Job, error) {
	state := job.State(req.State)
	if state != "" && !state.Valid() {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job state %q", req.State))
	}

	jobs, err := a.eng.Store().ListJobs(ctx.Context(), job.ListOpts{
		Limit:  defaultLimit(req.Limit),
		Offset: req.Offset,
		Topic:  req.Topic,
		State:  state,
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, ctx.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(ctx forge.Context, _ *GetJobRequest) (*job.Job, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}

	j, err := a.eng.Store().GetJob(ctx.Context(), jobID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return j, ctx.JSON(http.StatusOK, j)
}

// mapStoreError converts courier sentinel errors to forge HTTP errors.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return forge.NotFound(err.Error())
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, courier.ErrJobNotFound) ||
		errors.Is(err, courier.ErrDLQNotFound) ||
		errors.Is(err, courier.ErrUserNotFound)
}
