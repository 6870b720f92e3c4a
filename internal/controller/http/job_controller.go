// Package http exposes the job subsystem over a small illustrative Gin API:
// enqueue/inspect/cancel on the write side (via the Facade, C9), and
// search/stats/health on the read side (via the Status Tracker, C8).
package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-jobs/internal/dto/request"
	"github.com/jrjohn/arcana-jobs/internal/dto/response"
	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/scheduler"
	"github.com/jrjohn/arcana-jobs/internal/jobs/status"
)

// JobController wires the Facade and Status Tracker onto HTTP routes. The
// Scheduler is optional — a deployment running only worker processes has
// none to report.
type JobController struct {
	facade       *jobs.Facade
	tracker      *status.Tracker
	scheduler    *scheduler.Scheduler
	defaultRetry jobs.RetryPolicy
}

// NewJobController builds a JobController. sched may be nil. defaultRetry is
// applied to every ad-hoc job enqueued through EnqueueJob, since the request
// body has no way to specify its own retry policy.
func NewJobController(facade *jobs.Facade, tracker *status.Tracker, sched *scheduler.Scheduler, defaultRetry jobs.RetryPolicy) *JobController {
	return &JobController{facade: facade, tracker: tracker, scheduler: sched, defaultRetry: defaultRetry}
}

// RegisterRoutes mounts the controller's endpoints under router.
func (c *JobController) RegisterRoutes(router *gin.RouterGroup) {
	jobRoutes := router.Group("/jobs")
	{
		jobRoutes.POST("", c.EnqueueJob)
		jobRoutes.GET("", c.SearchJobs)
		jobRoutes.GET("/:id", c.GetJob)
		jobRoutes.DELETE("/:id", c.CancelJob)

		jobRoutes.GET("/queues/:queue/stats", c.GetQueueStats)
		jobRoutes.GET("/queues/:queue/throughput", c.GetThroughput)
		jobRoutes.GET("/dashboard", c.GetDashboard)
		jobRoutes.GET("/activity", c.GetRecentActivity)
		jobRoutes.GET("/workers", c.GetWorkerHealth)

		jobRoutes.GET("/scheduled", c.GetScheduledJobs)
		jobRoutes.POST("/scheduled/:name/trigger", c.TriggerScheduledJob)
	}
}

// EnqueueJob adds a new job to the queue.
func (c *JobController) EnqueueJob(ctx *gin.Context) {
	var req request.EnqueueJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.NewErrorWithDetails[any]("validation failed", err.Error()))
		return
	}

	def := jobs.NewJobDefinition(req.Name)
	def.RetryPolicy = c.defaultRetry
	if req.Queue != "" {
		def.Queue = req.Queue
	}

	var opts []jobs.JobOption
	if req.Priority != 0 {
		opts = append(opts, jobs.WithPriority(req.Priority))
	}
	if req.ScheduledAt != "" {
		scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, response.NewError[any]("invalid scheduled_at, expected RFC3339"))
			return
		}
		opts = append(opts, jobs.WithAt(scheduledAt))
	} else if req.DelaySeconds > 0 {
		opts = append(opts, jobs.WithDelay(time.Duration(req.DelaySeconds)*time.Second))
	}
	if req.UniqueKey != "" {
		opts = append(opts, jobs.WithUniqueKey(req.UniqueKey))
	}
	if len(req.Tags) > 0 {
		opts = append(opts, jobs.WithTags(req.Tags...))
	}
	if req.CorrelationID != "" {
		opts = append(opts, jobs.WithCorrelationID(req.CorrelationID))
	}

	var payload any
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		ctx.JSON(http.StatusBadRequest, response.NewError[any]("invalid payload JSON"))
		return
	}

	rec, err := c.facade.Enqueue(ctx.Request.Context(), def, payload, opts...)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to enqueue job"))
		return
	}

	ctx.JSON(http.StatusCreated, response.NewSuccess(response.JobEnqueueResponse{JobID: rec.ID}, "job enqueued"))
}

// GetJob retrieves a job by ID.
func (c *JobController) GetJob(ctx *gin.Context) {
	id := ctx.Param("id")
	info, err := c.tracker.GetJob(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to get job"))
		return
	}
	if info == nil {
		ctx.JSON(http.StatusNotFound, response.NewError[any]("job not found"))
		return
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(toJobResponse(info)))
}

// SearchJobs searches jobs by status/queue/name/tag with pagination.
func (c *JobController) SearchJobs(ctx *gin.Context) {
	var req request.SearchJobsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, response.NewErrorWithDetails[any]("validation failed", err.Error()))
		return
	}

	query := status.NewSearchQuery()
	query.Queue = req.Queue
	query.Name = req.Name
	query.Tag = req.Tag
	if req.Offset > 0 {
		query.Offset = req.Offset
	}
	if req.Limit > 0 {
		query.Limit = req.Limit
	}
	if req.Status != "" {
		s := jobs.JobStatus(req.Status)
		query.Status = &s
	}

	result, err := c.tracker.SearchJobs(ctx.Request.Context(), query)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to search jobs"))
		return
	}

	items := make([]response.JobResponse, len(result.Jobs))
	for i := range result.Jobs {
		items[i] = *toJobResponse(&result.Jobs[i])
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(
		response.NewPagedResponse(items, result.Offset, result.Limit, result.Total)))
}

// CancelJob cancels a pending or scheduled job.
func (c *JobController) CancelJob(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := c.facade.Cancel(ctx.Request.Context(), id); err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to cancel job"))
		return
	}
	ctx.JSON(http.StatusOK, response.NewSuccess[any](nil, "job cancelled"))
}

// GetQueueStats returns one queue's pending/active/completed/failed counts.
func (c *JobController) GetQueueStats(ctx *gin.Context) {
	queue := ctx.Param("queue")
	stats, err := c.tracker.GetQueueStats(ctx.Request.Context(), queue)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to get queue stats"))
		return
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(toQueueStatsResponse(stats)))
}

// GetDashboard returns the aggregated stats view across every known queue.
func (c *JobController) GetDashboard(ctx *gin.Context) {
	queues := ctx.QueryArray("queue")
	dash, err := c.tracker.GetDashboardStats(ctx.Request.Context(), queues)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to get dashboard stats"))
		return
	}

	resp := response.DashboardResponse{
		TotalJobs:       dash.TotalJobs,
		TotalPending:    dash.TotalPending,
		TotalActive:     dash.TotalActive,
		TotalCompleted:  dash.TotalCompleted,
		TotalFailed:     dash.TotalFailed,
		TotalDeadLetter: dash.TotalDeadLetter,
		TotalDelayed:    dash.TotalDelayed,
		Queues:          make([]response.QueueStatsResponse, len(dash.Queues)),
	}
	for i, q := range dash.Queues {
		resp.Queues[i] = toQueueStatsResponse(q)
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(resp))
}

// GetThroughput returns a queue's processing rate over a named period.
func (c *JobController) GetThroughput(ctx *gin.Context) {
	queue := ctx.Param("queue")
	period := status.ThroughputPeriod(ctx.DefaultQuery("period", string(status.ThroughputLastHour)))

	metrics, err := c.tracker.GetThroughput(ctx.Request.Context(), queue, period)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to get throughput"))
		return
	}

	buckets := make([]response.ThroughputBucketResponse, len(metrics.Buckets))
	for i, b := range metrics.Buckets {
		buckets[i] = response.ThroughputBucketResponse{
			Start: b.Start, End: b.End, Completed: b.Completed, Failed: b.Failed,
		}
	}

	ctx.JSON(http.StatusOK, response.NewSuccessWithData(response.ThroughputResponse{
		Queue:          metrics.Queue,
		Period:         string(metrics.Period),
		TotalProcessed: metrics.TotalProcessed,
		Completed:      metrics.Completed,
		Failed:         metrics.Failed,
		AvgPerSecond:   metrics.AvgPerSecond,
		SuccessRate:    metrics.SuccessRate,
		Buckets:        buckets,
	}))
}

// GetRecentActivity returns the most recent completions/failures across the
// given queues.
func (c *JobController) GetRecentActivity(ctx *gin.Context) {
	queues := ctx.QueryArray("queue")
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	activities, err := c.tracker.GetRecentActivity(ctx.Request.Context(), queues, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, response.NewError[any]("failed to get recent activity"))
		return
	}

	resp := make([]response.ActivityResponse, len(activities))
	for i, a := range activities {
		resp[i] = response.ActivityResponse{
			JobID:        a.JobID,
			JobName:      a.JobName,
			ActivityType: string(a.ActivityType),
			Timestamp:    a.Timestamp,
			Queue:        a.Queue,
			DurationMS:   a.DurationMS,
			Error:        a.Error,
		}
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(resp))
}

// GetWorkerHealth returns every worker's liveness status.
func (c *JobController) GetWorkerHealth(ctx *gin.Context) {
	health := c.tracker.GetWorkerHealth()
	resp := make([]response.WorkerHealthResponse, len(health))
	for i, h := range health {
		resp[i] = response.WorkerHealthResponse{
			WorkerID:      h.WorkerID,
			Status:        string(h.Status),
			LastHeartbeat: h.LastHeartbeat,
			Queues:        h.Queues,
		}
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(resp))
}

// GetScheduledJobs lists every registered recurring job.
func (c *JobController) GetScheduledJobs(ctx *gin.Context) {
	if c.scheduler == nil {
		ctx.JSON(http.StatusOK, response.NewSuccessWithData([]response.ScheduledJobResponse{}))
		return
	}

	jobList := c.scheduler.ListJobs()
	resp := make([]response.ScheduledJobResponse, len(jobList))
	for i, j := range jobList {
		resp[i] = response.ScheduledJobResponse{Name: j.Name, Cron: j.Cron, Enabled: j.Enabled, NextRun: j.NextRun}
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(resp))
}

// TriggerScheduledJob fires an immediate one-off run of a registered
// scheduled job, bypassing its cron cadence.
func (c *JobController) TriggerScheduledJob(ctx *gin.Context) {
	if c.scheduler == nil {
		ctx.JSON(http.StatusServiceUnavailable, response.NewError[any]("scheduler not available on this instance"))
		return
	}

	name := ctx.Param("name")
	rec, err := c.scheduler.TriggerJob(ctx.Request.Context(), name)
	if err != nil {
		ctx.JSON(http.StatusNotFound, response.NewErrorWithDetails[any]("failed to trigger scheduled job", err.Error()))
		return
	}
	ctx.JSON(http.StatusCreated, response.NewSuccess(response.JobEnqueueResponse{JobID: rec.ID}, "job triggered"))
}

func toJobResponse(info *jobs.JobInfo) *response.JobResponse {
	return &response.JobResponse{
		ID:            info.ID,
		Name:          info.Name,
		Queue:         info.Queue,
		Priority:      info.Priority,
		Status:        string(info.Status),
		Attempt:       info.Attempt,
		MaxAttempts:   info.MaxAttempts,
		ScheduledAt:   info.ScheduledAt,
		CreatedAt:     info.CreatedAt,
		StartedAt:     info.StartedAt,
		CompletedAt:   info.CompletedAt,
		LastError:     info.LastError,
		CorrelationID: info.CorrelationID,
		Tags:          info.Tags,
		WorkerID:      info.WorkerID,
	}
}

func toQueueStatsResponse(s status.QueueStats) response.QueueStatsResponse {
	return response.QueueStatsResponse{
		Queue:      s.Queue,
		Pending:    s.Pending,
		Active:     s.Active,
		Completed:  s.Completed,
		Failed:     s.Failed,
		DeadLetter: s.DeadLetter,
		Delayed:    s.Delayed,
	}
}
