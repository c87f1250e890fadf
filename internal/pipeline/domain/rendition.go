package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// RenditionStatus definition rendition status
type RenditionStatus string

const (
	//RenditionPending rendition 尚未完成
	RenditionPending RenditionStatus = "pending"
	//RenditionDone rendition 已轉碼並持久化
	RenditionDone RenditionStatus = "done"
	//RenditionFailed rendition 耗盡重試預算
	RenditionFailed RenditionStatus = "failed"
)

// RenditionProfile 定義單一目標輸出的轉碼參數（解析度/碼率組合）
type RenditionProfile struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate string `json:"video_bitrate"`
	AudioBitrate string `json:"audio_bitrate"`
}

// 內建畫質階梯，與上傳端約定的 profile 名稱對應
var renditionLadder = map[string]RenditionProfile{
	"480p":  {Name: "480p", Width: 854, Height: 480, VideoBitrate: "1000k", AudioBitrate: "96k"},
	"720p":  {Name: "720p", Width: 1280, Height: 720, VideoBitrate: "2500k", AudioBitrate: "128k"},
	"1080p": {Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", AudioBitrate: "192k"},
}

// LookupProfile 以名稱取得階梯中的 profile
func LookupProfile(name string) (RenditionProfile, error) {
	p, ok := renditionLadder[name]
	if !ok {
		return RenditionProfile{}, fmt.Errorf("未知的 rendition profile: %s", name)
	}
	return p, nil
}

// ValidateProfiles 確認所有請求的 profile 名稱都在階梯中
func ValidateProfiles(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("至少需要一個 rendition profile")
	}
	for _, n := range names {
		if _, err := LookupProfile(n); err != nil {
			return err
		}
	}
	return nil
}

// RenditionRecord 定義單一 rendition 的持久記錄
// (job_id, profile) 唯一；redelivery 從這份記錄恢復，不重做已完成的工作
type RenditionRecord struct {
	JobID     string          `json:"job_id"`
	VideoID   uint            `json:"video_id"`
	Profile   string          `json:"profile"`
	ObjectKey string          `json:"object_key"`
	SizeBytes int64           `json:"size_bytes"`
	Checksum  string          `json:"checksum"`
	Status    RenditionStatus `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RenditionObjectKey 由 (video_id, profile, checksum) 決定性導出 object key
// 內容尋址使重複寫入收斂到同一份 bytes，重試不會產生碰撞或重複的 live key
func RenditionObjectKey(videoID uint, profile, checksum string) string {
	return fmt.Sprintf("renditions/%d/%s/%s.mp4", videoID, profile, checksum)
}

// CoverObjectKey 封面的決定性 object key
func CoverObjectKey(videoID uint, checksum string) string {
	return fmt.Sprintf("covers/%d/%s.jpg", videoID, checksum)
}

// FileChecksum 計算檔案的 sha256 與大小
func FileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("開啟檔案失敗: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("讀取檔案失敗: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
