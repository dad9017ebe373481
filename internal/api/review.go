package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/opine/internal/models"
	"github.com/soaringjerry/opine/internal/services"
)

func queueFilter(c *gin.Context) (services.QueueFilter, bool) {
	f := services.QueueFilter{
		CompanyID: c.Query("companyId"),
		SurveyID:  c.Query("surveyId"),
		Reviewer:  c.Query("reviewer"),
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, p.name+" must be RFC3339")
			return f, false
		}
		*p.dst = t
	}
	return f, true
}

// GET /api/queue?surveyId=&companyId=&reviewer=&from=&to=&cursor=&limit=
func (rt *Router) handleQueue(c *gin.Context) {
	f, ok := queueFilter(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	page, next, err := rt.svc.Review.ListQueue(c.Request.Context(), f, c.Query("cursor"), limit)
	if err != nil {
		rt.writeError(c, err)
		return
	}
	if page == nil {
		page = []*models.Response{}
	}
	c.JSON(http.StatusOK, gin.H{"items": page, "nextCursor": next})
}

// GET /api/queue/batches
func (rt *Router) handleBatches(c *gin.Context) {
	f, ok := queueFilter(c)
	if !ok {
		return
	}
	batches, err := rt.svc.Review.Batches(c.Request.Context(), f)
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// POST /api/queue/claim?surveyId=&companyId=
func (rt *Router) handleClaim(c *gin.Context) {
	f, ok := queueFilter(c)
	if !ok {
		return
	}
	r, err := rt.svc.Review.Claim(c.Request.Context(), actor(c), f)
	if err != nil {
		rt.writeError(c, err)
		return
	}
	if r == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, r)
}

// POST /api/responses/:id/decision {decision, feedback}
func (rt *Router) handleDecision(c *gin.Context) {
	var req struct {
		Decision string `json:"decision" binding:"required"`
		Feedback string `json:"feedback"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := rt.svc.Review.Decide(c.Request.Context(), services.DecisionRequest{
		ResponseID: c.Param("id"),
		Reviewer:   actor(c),
		Decision:   req.Decision,
		Feedback:   req.Feedback,
	})
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/responses/:id/reassign {reviewer}
func (rt *Router) handleReassign(c *gin.Context) {
	var req struct {
		Reviewer string `json:"reviewer" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	r, err := rt.svc.Review.Reassign(c.Request.Context(), c.Param("id"), req.Reviewer, actor(c))
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// GET /api/responses/:id/history
func (rt *Router) handleHistory(c *gin.Context) {
	h, err := rt.svc.Review.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

// Reviewers may only look at their own record.
func (rt *Router) ownRecord(c *gin.Context) bool {
	if isOperator(c) || actor(c) == c.Param("id") {
		return true
	}
	rt.writeError(c, services.NewForbiddenError("reviewers may only view their own record"))
	return false
}

// GET /api/reviewers/:id/replaced
func (rt *Router) handleReplaced(c *gin.Context) {
	if !rt.ownRecord(c) {
		return
	}
	rs, err := rt.svc.Review.FindReplaced(c.Request.Context(), c.Param("id"))
	if err != nil {
		rt.writeError(c, err)
		return
	}
	if rs == nil {
		rs = []*models.Response{}
	}
	c.JSON(http.StatusOK, gin.H{"items": rs})
}

// GET /api/reviewers/:id/throughput
func (rt *Router) handleThroughput(c *gin.Context) {
	if !rt.ownRecord(c) {
		return
	}
	tp, err := rt.svc.Review.Throughput(c.Request.Context(), c.Param("id"))
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tp)
}

// GET /api/reports/surveys/:id?companyId=
func (rt *Router) handleSurveyReport(c *gin.Context) {
	sum, err := rt.svc.Reports.Summary(c.Request.Context(), c.Query("companyId"), c.Param("id"))
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
