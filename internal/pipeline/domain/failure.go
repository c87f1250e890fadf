package domain

import (
	"errors"
	"strings"
)

// FailureClass definition 失敗分類，決定重試策略
type FailureClass string

const (
	//FailureTransient 暫時性失敗（工具崩潰、儲存逾時），在預算內重試
	FailureTransient FailureClass = "transient"
	//FailurePermanent 永久性失敗（輸入損壞、參數錯誤），不重試
	FailurePermanent FailureClass = "permanent"
	//FailureInfrastructure 基礎設施失敗（queue/儲存不可用），nack 後由重投遞稍後再試
	FailureInfrastructure FailureClass = "infrastructure"
)

// PipelineError 帶分類的流水線錯誤
type PipelineError struct {
	Class FailureClass
	Cause string // 泛化原因類別，可對使用者呈現
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return e.Cause + ": " + e.Err.Error()
	}
	return e.Cause
}

// Unwrap 支援 errors.Is / errors.As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewTransient 建立暫時性錯誤
func NewTransient(cause string, err error) *PipelineError {
	return &PipelineError{Class: FailureTransient, Cause: cause, Err: err}
}

// NewPermanent 建立永久性錯誤
func NewPermanent(cause string, err error) *PipelineError {
	return &PipelineError{Class: FailurePermanent, Cause: cause, Err: err}
}

// NewInfrastructure 建立基礎設施錯誤
func NewInfrastructure(cause string, err error) *PipelineError {
	return &PipelineError{Class: FailureInfrastructure, Cause: cause, Err: err}
}

// ffmpeg 輸出中代表輸入本身有問題的片段，重試無法解決
var permanentToolSignatures = []string{
	"Invalid data found when processing input",
	"moov atom not found",
	"Unknown format",
	"Unsupported codec",
	"Invalid argument",
	"Option not found",
}

// ClassifyToolFailure 根據外部轉碼工具的輸出分類失敗
func ClassifyToolFailure(output string) FailureClass {
	for _, sig := range permanentToolSignatures {
		if strings.Contains(output, sig) {
			return FailurePermanent
		}
	}
	return FailureTransient
}

// Classify 取得錯誤的失敗分類，未分類的錯誤視為暫時性
func Classify(err error) FailureClass {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return FailureTransient
}

// CauseOf 取得錯誤的泛化原因，供狀態記錄使用
func CauseOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Cause
	}
	return "unknown"
}
