package main

import (
	"video_transcode_pipeline/internal/pipeline/api/router"

	"github.com/gofiber/fiber/v2"
)

// 此程式用於 init swagger
// swag init output ./docs
func main() {
	app := fiber.New()

	router.RegisterRoutes(app, nil)
}

