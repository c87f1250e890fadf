package domain

import "time"

const (
	//CompletionTopic 完成事件的 Kafka topic，下游（搜尋索引、通知）各自消費
	CompletionTopic = "video.transcode.completed"
)

// CompletionEvent 每次 job 進入 ready 終態發出一次的完成事件
type CompletionEvent struct {
	JobID    string            `json:"job_id"`
	VideoID  uint              `json:"video_id"`
	Manifest map[string]string `json:"manifest"` // profile -> object key
	CoverKey string            `json:"cover_key,omitempty"`
	Duration float64           `json:"duration_seconds,omitempty"`
	At       time.Time         `json:"at"`
}

// JobEventType definition job 事件類別
type JobEventType string

const (
	//EventStateChanged job 狀態轉移
	EventStateChanged JobEventType = "state_changed"
	//EventRenditionDone 單一 rendition 完成
	EventRenditionDone JobEventType = "rendition_done"
	//EventRenditionAttemptFailed 單次轉碼嘗試失敗（含原因與嘗試數，供運維診斷）
	EventRenditionAttemptFailed JobEventType = "rendition_attempt_failed"
	//EventStaleReport 終態後收到的過期回報，記錄後忽略
	EventStaleReport JobEventType = "stale_report"
	//EventPublished rendition set 發布完成
	EventPublished JobEventType = "published"
)

// JobEvent job 事件明細，寫入 Mongo 供運維查詢
// 使用者僅看到泛化的原因類別，原始錯誤細節保留在這裡
type JobEvent struct {
	JobID   string       `bson:"job_id" json:"job_id"`
	VideoID uint         `bson:"video_id" json:"video_id"`
	Type    JobEventType `bson:"type" json:"type"`
	State   string       `bson:"state,omitempty" json:"state,omitempty"`
	Profile string       `bson:"profile,omitempty" json:"profile,omitempty"`
	Attempt int          `bson:"attempt,omitempty" json:"attempt,omitempty"`
	Cause   string       `bson:"cause,omitempty" json:"cause,omitempty"`
	Detail  string       `bson:"detail,omitempty" json:"detail,omitempty"`
	At      time.Time    `bson:"at" json:"at"`
}
