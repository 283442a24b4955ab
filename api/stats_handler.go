package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/courier/cron"
)

func (a *API) stats(ctx forge.Context) error {
	c := ctx.Context()
	q := a.eng.Queue()

	total, err := q.Stats(c, "")
	if err != nil {
		return forge.InternalError(err)
	}

	resp := StatsResponse{Total: total}
	for _, topic := range q.Config().Topics {
		st, err := q.Stats(c, topic)
		if err != nil {
			return forge.InternalError(err)
		}
		resp.Topics = append(resp.Topics, st)
	}

	return ctx.JSON(http.StatusOK, resp)
}

func (a *API) maintenance(ctx forge.Context) error {
	resp := MaintenanceResponse{Tasks: []cron.Status{}}
	if s := a.eng.Scheduler(); s != nil {
		resp.Leader = s.IsLeader()
		resp.Tasks = s.Status()
	}
	return ctx.JSON(http.StatusOK, resp)
}
