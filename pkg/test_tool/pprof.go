package testtool

import (
	"net/http"
	_ "net/http/pprof" // 匯入後會自動註冊 pprof endpoint

	"video_transcode_pipeline/pkg/config"
	"video_transcode_pipeline/pkg/logger"
)

// StartPprof 根據環境變數啟動 pprof 監控伺服器
func StartPprof() {
	// 當環境變數 ENV 為 "production" 時，表示正式環境，不開啟 pprof
	if config.IsProduction() {
		logger.Log.Info("Production environment detected, pprof is disabled.")
		return
	}

	// 非 production 環境時，在預設 port 6060 上啟動 pprof 監控伺服器
	go func() {
		logger.Log.Info("Starting pprof server on :6060")
		if err := http.ListenAndServe(":6060", nil); err != nil {
			logger.Log.Infof("pprof server failed: ", err)
		}
	}()
}
