package service

import "errors"

var (
	// ErrHashExtraction 磁力链里没有 btih 参数
	ErrHashExtraction = errors.New("could not extract hash from magnet link")

	// ErrValidationInconclusive 校验时下载还没完成或文件不在了，不算错误
	ErrValidationInconclusive = errors.New("validation inconclusive")
)

// DownloadInitiationError 下载设施拒绝或无法开始下载
type DownloadInitiationError struct {
	Err error
}

func (e *DownloadInitiationError) Error() string {
	return e.Err.Error()
}

func (e *DownloadInitiationError) Unwrap() error { return e.Err }
