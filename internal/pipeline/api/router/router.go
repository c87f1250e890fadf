package router

import (
	"video_transcode_pipeline/internal/pipeline/api/handlers"
	"video_transcode_pipeline/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
)

// RegisterRoutes 注册转码流水线相关的路由
// @title Video Transcode Pipeline API
// @version 1.0
// @description API documentation for Video Transcode Pipeline
// @host localhost:8084
// @BasePath /
func RegisterRoutes(app *fiber.App, pipelineHandler *handlers.PipelineHandler) {
	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/", handlers.ConnectCheck)
	app.Post("/debug", handlers.DebugLogFlag)

	pipelineRoutes := app.Group("/pipeline")
	pipelineRoutes.Use(middlewares.JWTMiddleware())
	pipelineRoutes.Post("/videos/:video_id/transcode", pipelineHandler.SubmitTranscode)
	pipelineRoutes.Get("/videos/:video_id/status", pipelineHandler.GetStatus)
	pipelineRoutes.Delete("/videos/:video_id", pipelineHandler.CancelVideo)
	pipelineRoutes.Get("/jobs/:job_id/events", pipelineHandler.ListJobEvents)
}
