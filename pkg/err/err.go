package errprocess

import (
	"errors"

	"video_transcode_pipeline/pkg/logger"
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}
