package domain

import "time"

const (
	//QueueName definition transcode job queue name
	QueueName = "transcode_jobs"

	//JobSchemaVersion 目前 job 訊息的 schema 版本，worker 拒絕未知版本
	JobSchemaVersion = 1
)

// JobState definition transcode job state
type JobState string

const (
	//JobQueued job 已入列，尚未被 worker 認領
	JobQueued JobState = "queued"
	//JobProcessing job 已被 worker 認領，轉碼進行中
	JobProcessing JobState = "processing"
	//JobReady 全部 rendition 完成且已發布，終態
	JobReady JobState = "ready"
	//JobFailed 任一 rendition 耗盡重試預算，終態
	JobFailed JobState = "failed"
	//JobCancelling 影片刪除中，拒絕後續轉移
	JobCancelling JobState = "cancelling"
	//JobCancelled 已清除寫入的 rendition，終態
	JobCancelled JobState = "cancelled"
)

// Terminal 回傳該狀態是否為終態（不再接受任何轉移）
func (s JobState) Terminal() bool {
	return s == JobReady || s == JobFailed || s == JobCancelled
}

// JobDescriptor 定義轉碼工作訊息（queue 上的 wire format）
type JobDescriptor struct {
	SchemaVersion int       `json:"schema_version"`
	JobID         string    `json:"job_id"`
	VideoID       uint      `json:"video_id"`
	RawAssetKey   string    `json:"raw_asset_key"` // 原始檔在 MinIO 上的 object key
	Renditions    []string  `json:"renditions"`    // 目標 profile 名稱，保持提交時順序
	Attempt       int       `json:"attempt"`
	CreatedAt     time.Time `json:"created_at"`
}

// TranscodeJob 定義 job 的持久狀態記錄（Status Tracker 的單一事實來源）
// 僅由 Orchestrator 寫入，CRUD 層與搜尋索引只讀
type TranscodeJob struct {
	ID          uint   `gorm:"primaryKey"`
	JobID       string `gorm:"uniqueIndex;size:64"`
	VideoID     uint   `gorm:"index"`
	UploaderID  string
	RawAssetKey string
	State       string `gorm:"index"`
	Cause       string // 終態 failed 時的泛化原因類別，不含工具原始輸出
	DedupToken  string `gorm:"size:64;uniqueIndex:uidx_transcode_jobs_dedup_token,where:dedup_token <> ''"`
	Renditions  string // 請求的 profile 名稱，逗號分隔
	Manifest    string // ready 後的 rendition manifest（JSON: profile -> object key）
	CoverKey    string
	Duration    float64 // 原始影片秒數，由 ffprobe 取得
	// EventEmitted 完成事件已確認送達 broker；ready 後送出失敗時
	// redelivery 據此補發，事件由下游以 video_id 去重
	EventEmitted bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SubmitJobReq usecase submit transcode job request
type SubmitJobReq struct {
	VideoID     uint
	UploaderID  string
	RawAssetKey string
	Renditions  []string
	DedupToken  string
}

// SubmitJobRes usecase submit transcode job response
type SubmitJobRes struct {
	JobID   string
	VideoID uint
	State   JobState
}

// TranscodeStatusRes usecase transcode status response
type TranscodeStatusRes struct {
	VideoID    uint
	JobID      string
	State      JobState
	Cause      string
	Renditions []RenditionRecord
	Manifest   map[string]string
	CoverKey   string
	Duration   float64
	// PlayURLs ready 後各 profile 的 presigned 播放連結
	PlayURLs map[string]string
	CoverURL string
}
