package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"hecticradio.app/live/internal/http/dto"
	"hecticradio.app/live/internal/model"
	"hecticradio.app/live/internal/musicsync"
	"hecticradio.app/live/internal/queue"
)

type SyncEnqueuer interface {
	Enqueue(ctx context.Context, target musicsync.Target) (*queue.Job, error)
}

type JobStatsReader interface {
	Stats(ctx context.Context) (queue.Stats, error)
	Repeats(ctx context.Context) ([]queue.Repeat, error)
}

type ContentCounter interface {
	Counts(ctx context.Context) (model.ContentCounts, error)
}

type JobsHandler struct {
	producer SyncEnqueuer
	stats    JobStatsReader
	content  ContentCounter
}

func NewJobsHandler(producer SyncEnqueuer, stats JobStatsReader, content ContentCounter) *JobsHandler {
	return &JobsHandler{producer: producer, stats: stats, content: content}
}

// EnqueueMusicSync queues a one-off sync. The body is optional; the target
// defaults to all platforms.
func (h *JobsHandler) EnqueueMusicSync(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.MusicSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	target, err := musicsync.ParseTarget(req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.producer.Enqueue(ctx, target)
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue music sync", "error", err, "target", target)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	c.JSON(http.StatusAccepted, toJobResponse(job))
}

func (h *JobsHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.stats.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read job stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job stats"})
		return
	}
	repeats, err := h.stats.Repeats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list repeat jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job stats"})
		return
	}

	resp := dto.JobStatsResponse{
		Waiting:   stats.Waiting,
		Delayed:   stats.Delayed,
		Active:    stats.Active,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Repeats:   make([]dto.RepeatResponse, 0, len(repeats)),
	}
	for _, r := range repeats {
		resp.Repeats = append(resp.Repeats, dto.RepeatResponse{
			Key:      r.Key,
			Name:     r.Name,
			Cron:     r.Schedule.Cron,
			Timezone: r.Schedule.Timezone,
			Next:     r.Next,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobsHandler) ContentCounts(c *gin.Context) {
	ctx := c.Request.Context()

	counts, err := h.content.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count synced content", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count content"})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func toJobResponse(job *queue.Job) dto.JobResponse {
	return dto.JobResponse{
		ID:       job.ID,
		Name:     job.Name,
		State:    string(job.State),
		Attempt:  job.Attempt,
		RunAt:    job.RunAt,
		RepeatOf: job.RepeatKey,
	}
}
