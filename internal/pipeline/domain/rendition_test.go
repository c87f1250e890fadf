package domain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 測試 object key 的決定性導出
func TestObjectKeys(t *testing.T) {
	t.Run("相同輸入導出相同 key", func(t *testing.T) {
		a := RenditionObjectKey(7, "720p", "abc123")
		b := RenditionObjectKey(7, "720p", "abc123")
		assert.Equal(t, a, b)
		assert.Equal(t, "renditions/7/720p/abc123.mp4", a)
	})

	t.Run("不同內容導出不同 key", func(t *testing.T) {
		a := RenditionObjectKey(7, "720p", "abc123")
		b := RenditionObjectKey(7, "720p", "def456")
		assert.NotEqual(t, a, b)
	})

	t.Run("封面 key 格式", func(t *testing.T) {
		assert.Equal(t, "covers/7/abc123.jpg", CoverObjectKey(7, "abc123"))
	})
}

// 測試 FileChecksum 的穩定性
func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp4")
	content := []byte("same bytes every time")
	assert.NoError(t, os.WriteFile(path, content, 0o644))

	sum1, size1, err := FileChecksum(path)
	assert.NoError(t, err)
	sum2, size2, err := FileChecksum(path)
	assert.NoError(t, err)

	assert.Equal(t, sum1, sum2)
	assert.Equal(t, size1, size2)
	assert.Equal(t, int64(len(content)), size1)

	t.Run("檔案不存在時回報錯誤", func(t *testing.T) {
		_, _, err := FileChecksum(filepath.Join(t.TempDir(), "missing.mp4"))
		assert.Error(t, err)
	})
}

// 測試畫質階梯查找
func TestRenditionLadder(t *testing.T) {
	t.Run("已知 profile 可查找", func(t *testing.T) {
		p, err := LookupProfile("720p")
		assert.NoError(t, err)
		assert.Equal(t, 1280, p.Width)
		assert.Equal(t, 720, p.Height)
	})

	t.Run("未知 profile 回報錯誤", func(t *testing.T) {
		_, err := LookupProfile("4k")
		assert.Error(t, err)
	})

	t.Run("ValidateProfiles 拒絕空列表", func(t *testing.T) {
		assert.Error(t, ValidateProfiles(nil))
		assert.Error(t, ValidateProfiles([]string{"480p", "4k"}))
		assert.NoError(t, ValidateProfiles([]string{"480p", "720p", "1080p"}))
	})
}

// 測試 JobState 終態判定
func TestJobStateTerminal(t *testing.T) {
	assert.True(t, JobReady.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobCancelled.Terminal())
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.False(t, JobCancelling.Terminal())
}
