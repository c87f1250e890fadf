package app

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"video_transcode_pipeline/internal/pipeline/domain"
	"video_transcode_pipeline/pkg/logger"
)

// Transcoder definition 外部轉碼工具的調用介面
// 編解碼細節完全委派給外部工具，這裡只負責調用與結果捕捉
type Transcoder interface {
	// Transcode 將 inputPath 依 profile 轉碼到 outputPath
	Transcode(ctx context.Context, inputPath, outputPath string, profile domain.RenditionProfile) error
	// ExtractCover 從 inputPath 擷取一張封面到 outputPath
	ExtractCover(ctx context.Context, inputPath, outputPath string) error
	// ProbeDuration 取得影片秒數
	ProbeDuration(ctx context.Context, inputPath string) (float64, error)
}

// FFmpegTranscoder 以 ffmpeg/ffprobe 實作 Transcoder
type FFmpegTranscoder struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpegTranscoder create a FFmpegTranscoder，路徑留空時使用 PATH 中的執行檔
func NewFFmpegTranscoder(ffmpegPath, ffprobePath string) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegTranscoder{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Transcode 依 profile 的解析度/碼率執行單次轉碼
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath, outputPath string, profile domain.RenditionProfile) error {
	cmdArgs := []string{
		"-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%d:%d", profile.Width, profile.Height),
		"-c:v", "libx264",
		"-b:v", profile.VideoBitrate,
		"-c:a", "aac",
		"-b:a", profile.AudioBitrate,
		"-movflags", "+faststart",
		outputPath,
	}
	logger.Log.Debug(fmt.Sprintf("執行 FFmpeg [%s]: %s %v", profile.Name, t.FFmpegPath, cmdArgs))

	cmd := exec.CommandContext(ctx, t.FFmpegPath, cmdArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		toolErr := fmt.Errorf("FFmpeg 錯誤: %v, output: %s", err, string(output))
		if domain.ClassifyToolFailure(string(output)) == domain.FailurePermanent {
			return domain.NewPermanent("unsupported_input", toolErr)
		}
		return domain.NewTransient("tool_failure", toolErr)
	}
	return nil
}

// ExtractCover 擷取第 1 秒的影格作為封面
func (t *FFmpegTranscoder) ExtractCover(ctx context.Context, inputPath, outputPath string) error {
	cmdArgs := []string{
		"-y",
		"-ss", "1",
		"-i", inputPath,
		"-vframes", "1",
		"-q:v", "2",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, t.FFmpegPath, cmdArgs...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("FFmpeg 擷取封面錯誤: %v, output: %s", err, string(output))
	}
	return nil
}

// ProbeDuration 以 ffprobe 讀取 container 層的 duration
func (t *FFmpegTranscoder) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	cmdArgs := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, t.FFprobePath, cmdArgs...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe 錯誤: %v", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("解析 duration 失敗: %w", err)
	}
	return duration, nil
}
