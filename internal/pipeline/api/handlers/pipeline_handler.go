package handlers

import (
	"errors"
	"strconv"

	"video_transcode_pipeline/internal/pipeline/app"
	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/pkg"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PipelineHandler 處理轉碼流水線相關的 HTTP 請求
type PipelineHandler struct {
	Usecase app.PipelineUseCase
}

// NewPipelineHandler 建立一個新的 PipelineHandler
func NewPipelineHandler(usecase app.PipelineUseCase) *PipelineHandler {
	return &PipelineHandler{
		Usecase: usecase,
	}
}

// SubmitTranscode 提交轉碼工作
// @Summary 提交轉碼工作
// @Description 上傳完成後將影片送入轉碼流水線
// @Tags Pipeline
// @Accept json
// @Produce json
// @Param video_id path int true "影片 ID"
// @Param request body object true "轉碼請求"
// @Success 200 {object} string "已入列"
// @Failure 400 {object} string "請求錯誤"
// @Failure 409 {object} string "前一個 job 尚未結束"
// @Failure 503 {object} string "佇列不可用"
// @Router /pipeline/videos/{video_id}/transcode [post]
func (h *PipelineHandler) SubmitTranscode(c *fiber.Ctx) error {
	videoID, err := strconv.Atoi(c.Params("video_id"))
	if err != nil || videoID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid video_id"})
	}

	type request struct {
		RawAssetKey string   `json:"raw_asset_key"`
		Renditions  []string `json:"renditions"`
		DedupToken  string   `json:"dedup_token"`
	}
	var req request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	uploaderID, _ := c.Locals(middlewares.TokenUploaderID).(string)
	logger.Log.Debug("SubmitTranscode request",
		zap.Int("video_id", videoID),
		zap.String("uploader_id", uploaderID),
		zap.Strings("renditions", req.Renditions))

	res, err := h.Usecase.SubmitTranscodeJob(c.Context(), domain.SubmitJobReq{
		VideoID:     uint(videoID),
		UploaderID:  uploaderID,
		RawAssetKey: req.RawAssetKey,
		Renditions:  req.Renditions,
		DedupToken:  req.DedupToken,
	})
	if err != nil {
		if errors.Is(err, app.ErrJobInFlight) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"job_id":   res.JobID,
		"video_id": res.VideoID,
		"state":    res.State,
	})
}

// GetStatus 查詢轉碼狀態
// @Summary 查詢轉碼狀態
// @Description 回傳影片最近一次 job 的狀態、rendition 進度與 manifest
// @Tags Pipeline
// @Produce json
// @Param video_id path int true "影片 ID"
// @Success 200 {object} string "job 狀態"
// @Failure 404 {object} string "找不到 job"
// @Router /pipeline/videos/{video_id}/status [get]
func (h *PipelineHandler) GetStatus(c *fiber.Ctx) error {
	videoID, err := strconv.Atoi(c.Params("video_id"))
	if err != nil || videoID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid video_id"})
	}

	res, err := h.Usecase.GetTranscodeStatus(c.Context(), uint(videoID))
	if err != nil {
		if errors.Is(err, app.ErrJobNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "找不到轉碼 job"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

// CancelVideo 影片刪除時取消 in-flight 的轉碼 job
// @Summary 取消轉碼工作
// @Description 影片刪除時標記 job 取消，已寫入的 rendition 由 worker 清理
// @Tags Pipeline
// @Param video_id path int true "影片 ID"
// @Success 200 {object} string "已標記取消"
// @Failure 404 {object} string "找不到 job"
// @Router /pipeline/videos/{video_id} [delete]
func (h *PipelineHandler) CancelVideo(c *fiber.Ctx) error {
	videoID, err := strconv.Atoi(c.Params("video_id"))
	if err != nil || videoID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid video_id"})
	}

	if err := h.Usecase.CancelVideoJob(c.Context(), uint(videoID)); err != nil {
		if errors.Is(err, app.ErrJobNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "找不到轉碼 job"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"msg": "已標記取消"})
}

// ListJobEvents 查詢 job 事件明細
// @Summary 查詢 job 事件明細
// @Description 運維診斷用，回傳狀態轉移與每次嘗試的記錄
// @Tags Pipeline
// @Produce json
// @Param job_id path string true "Job ID"
// @Success 200 {object} string "事件列表"
// @Failure 403 {object} string "需要 operator 角色"
// @Router /pipeline/jobs/{job_id}/events [get]
func (h *PipelineHandler) ListJobEvents(c *fiber.Ctx) error {
	role, _ := c.Locals(middlewares.TokenRole).(string)
	if !pkg.Contains([]string{"operator", "admin"}, role) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "需要 operator 角色"})
	}

	jobID := c.Params("job_id")
	if jobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid job_id"})
	}

	events, err := h.Usecase.ListJobEvents(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(events)
}
