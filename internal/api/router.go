package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/opine/internal/middleware"
	"github.com/soaringjerry/opine/internal/services"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Submission  *services.SubmissionService
	Review      *services.ReviewService
	Maintenance *services.MaintenanceService
	Reports     *services.ReportService
}

type Router struct {
	svc    Services
	secret []byte
	logger *slog.Logger
}

func NewRouter(svc Services, secret []byte, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{svc: svc, secret: secret, logger: logger}
}

// Register mounts every /api route on r. All of them require a token.
func (rt *Router) Register(r gin.IRouter) {
	api := r.Group("/api", middleware.Auth(rt.secret))

	field := middleware.RequireRole(middleware.RoleInterviewer, middleware.RoleOperator)
	review := middleware.RequireRole(middleware.RoleReviewer, middleware.RoleOperator)
	operator := middleware.RequireRole(middleware.RoleOperator)

	api.POST("/responses", field, rt.handleSubmit)
	api.GET("/responses/:id", rt.handleGetResponse)
	api.POST("/responses/:id/abandon", field, rt.handleAbandon)
	api.POST("/responses/:id/terminate", field, rt.handleTerminate)
	api.POST("/telephony/status", field, rt.handleCallStatus)

	api.GET("/queue", review, rt.handleQueue)
	api.GET("/queue/batches", review, rt.handleBatches)
	api.POST("/queue/claim", review, rt.handleClaim)
	api.POST("/responses/:id/decision", review, rt.handleDecision)
	api.POST("/responses/:id/reassign", operator, rt.handleReassign)
	api.GET("/responses/:id/history", review, rt.handleHistory)
	api.GET("/reviewers/:id/replaced", review, rt.handleReplaced)
	api.GET("/reviewers/:id/throughput", review, rt.handleThroughput)
	api.GET("/reports/surveys/:id", review, rt.handleSurveyReport)

	maint := api.Group("/maintenance", operator)
	maint.POST("/dedup-sweep", rt.handleDedupSweep)
	maint.POST("/phone-sweep", rt.handlePhoneSweep)
	maint.POST("/reevaluate", rt.handleReevaluate)
	maint.POST("/repair", rt.handleRepair)
	maint.POST("/bulk-reject", rt.handleBulkReject)
}

// writeError maps service errors onto HTTP statuses. Anything else is
// logged and reported as a 500 without details.
func (rt *Router) writeError(c *gin.Context, err error) {
	if se, ok := services.AsServiceError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": se.Message, "code": se.Code})
		return
	}
	rt.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": services.ErrorInvalid})
}

// actor returns the caller's user id; Auth guarantees it is set.
func actor(c *gin.Context) string {
	if claims, ok := middleware.ClaimsFrom(c); ok {
		return claims.UID
	}
	return ""
}

func isOperator(c *gin.Context) bool {
	claims, ok := middleware.ClaimsFrom(c)
	return ok && claims.Role == middleware.RoleOperator
}
