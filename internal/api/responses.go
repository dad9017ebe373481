package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/opine/internal/middleware"
	"github.com/soaringjerry/opine/internal/services"
)

// POST /api/responses
func (rt *Router) handleSubmit(c *gin.Context) {
	var req services.SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.InterviewerID == "" && !isOperator(c) {
		req.InterviewerID = actor(c)
	}
	res, err := rt.svc.Submission.Submit(c.Request.Context(), req, middleware.LocaleFrom(c))
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GET /api/responses/:id
func (rt *Router) handleGetResponse(c *gin.Context) {
	r, err := rt.svc.Submission.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// POST /api/responses/:id/abandon {reason}
func (rt *Router) handleAbandon(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := rt.svc.Submission.Abandon(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/responses/:id/terminate {reason}
func (rt *Router) handleTerminate(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := rt.svc.Submission.Terminate(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/telephony/status {responseId, status}
func (rt *Router) handleCallStatus(c *gin.Context) {
	var upd services.CallStatusUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := rt.svc.Submission.ApplyCallStatus(c.Request.Context(), upd)
	if err != nil {
		rt.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
