package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/opine/internal/services"
)

type maintenanceRequest struct {
	DryRun      bool                      `json:"dryRun"`
	SurveyID    string                    `json:"surveyId"`
	PageSize    int                       `json:"pageSize"`
	Concurrency int                       `json:"concurrency"`
	Items       []services.BulkRejectItem `json:"items"`
}

func (r maintenanceRequest) options() services.BatchOptions {
	return services.BatchOptions{DryRun: r.DryRun, PageSize: r.PageSize, Concurrency: r.Concurrency}
}

// runJob decodes the optional request body, runs job and writes its report.
// A report is written even when the job stopped early.
func (rt *Router) runJob(c *gin.Context, job func(ctx context.Context, req maintenanceRequest) (*services.RunReport, error)) {
	var req maintenanceRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	report, err := job(c.Request.Context(), req)
	if err != nil {
		if _, ok := services.AsServiceError(err); ok || report == nil {
			rt.writeError(c, err)
			return
		}
		rt.logger.Error("maintenance job stopped early", "job", report.Job, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job stopped early", "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// POST /api/maintenance/dedup-sweep
func (rt *Router) handleDedupSweep(c *gin.Context) {
	rt.runJob(c, func(ctx context.Context, req maintenanceRequest) (*services.RunReport, error) {
		return rt.svc.Maintenance.DedupSweep(ctx, req.options())
	})
}

// POST /api/maintenance/phone-sweep {surveyId}
func (rt *Router) handlePhoneSweep(c *gin.Context) {
	rt.runJob(c, func(ctx context.Context, req maintenanceRequest) (*services.RunReport, error) {
		return rt.svc.Maintenance.PhoneSweep(ctx, req.SurveyID, req.options())
	})
}

// POST /api/maintenance/reevaluate {surveyId?}
func (rt *Router) handleReevaluate(c *gin.Context) {
	rt.runJob(c, func(ctx context.Context, req maintenanceRequest) (*services.RunReport, error) {
		return rt.svc.Maintenance.Reevaluate(ctx, req.SurveyID, req.options())
	})
}

// POST /api/maintenance/repair
func (rt *Router) handleRepair(c *gin.Context) {
	rt.runJob(c, func(ctx context.Context, req maintenanceRequest) (*services.RunReport, error) {
		return rt.svc.Maintenance.RepairInvariants(ctx, req.options())
	})
}

// POST /api/maintenance/bulk-reject {items: [{responseId, reason}]}
func (rt *Router) handleBulkReject(c *gin.Context) {
	who := actor(c)
	rt.runJob(c, func(ctx context.Context, req maintenanceRequest) (*services.RunReport, error) {
		if len(req.Items) == 0 {
			return nil, services.NewInvalidError("items are required")
		}
		return rt.svc.Maintenance.BulkReject(ctx, req.Items, who, req.options())
	})
}
