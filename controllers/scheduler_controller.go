package controllers

import (
	"errors"
	"net/http"
	"strings"

	"finance_backend/scheduler"

	"github.com/gin-gonic/gin"
)

// SchedulerController exposes the finance refresh scheduler to the dashboard
type SchedulerController struct {
	scheduler *scheduler.FinanceScheduler
}

// NewSchedulerController creates a new scheduler controller
func NewSchedulerController(s *scheduler.FinanceScheduler) *SchedulerController {
	return &SchedulerController{scheduler: s}
}

type schedulerActionRequest struct {
	Action string `json:"action" binding:"required"`
}

// GetStatus returns the scheduler state
// GET /dashboard/finance-scheduler
func (sc *SchedulerController) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": sc.scheduler.GetStatus()})
}

// HandleAction starts, stops or triggers the scheduler
// POST /dashboard/finance-scheduler {"action": "start|stop|update-now"}
func (sc *SchedulerController) HandleAction(c *gin.Context) {
	var req schedulerActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "action is required (start, stop or update-now)")
		return
	}

	var message string
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		wasActive := sc.scheduler.IsActive()
		if err := sc.scheduler.Start(); err != nil {
			sc.respond(c, http.StatusInternalServerError, false, "Failed to start scheduler: "+err.Error())
			return
		}
		message = "Scheduler started"
		if wasActive {
			message = "Scheduler restarted"
		}

	case "stop":
		if sc.scheduler.Stop() {
			message = "Scheduler stopped"
		} else {
			message = "Scheduler is not running"
		}

	case "update-now":
		err := sc.scheduler.TriggerNow(c.Request.Context())
		if errors.Is(err, scheduler.ErrRefreshInProgress) {
			sc.respond(c, http.StatusConflict, false, "A refresh is already in progress")
			return
		}
		if err != nil {
			sc.respond(c, http.StatusInternalServerError, false, "Refresh failed: "+err.Error())
			return
		}
		message = "Finance data updated"

	default:
		respondBadRequest(c, "unknown action "+req.Action+" (expected start, stop or update-now)")
		return
	}

	sc.respond(c, http.StatusOK, true, message)
}

func (sc *SchedulerController) respond(c *gin.Context, status int, success bool, message string) {
	c.JSON(status, gin.H{
		"success": success,
		"message": message,
		"data":    sc.scheduler.GetStatus(),
	})
}
