package downloader

import (
	"context"
	"errors"

	"github.com/pokerjest/torrentlink/internal/model"
)

// ConflictAction 目标文件已存在时的处理方式
type ConflictAction string

// ConflictUniquify 自动重命名 (name (1).torrent)，既不覆盖也不放弃
const ConflictUniquify ConflictAction = "uniquify"

var (
	ErrInvalidScheme    = errors.New("invalid url scheme")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrInvalidConflict  = errors.New("unsupported conflict action")
	ErrDownloadNotFound = errors.New("download not found")
)

// Options 一次下载请求
type Options struct {
	URL            string         `json:"url"`
	Filename       string         `json:"filename"` // 相对下载根目录，可以带 / 子目录
	SaveAs         bool           `json:"saveAs"`
	ConflictAction ConflictAction `json:"conflictAction"`
}

// StateChange 下载状态变化，通过 event.EventDownloadChanged 发布
type StateChange struct {
	ID       uint                `json:"id"`
	Previous model.DownloadState `json:"previous"`
	Current  model.DownloadState `json:"current"`
}

// Facility 定义下载设施：发起下载 + 查询下载记录
type Facility interface {
	// Download 发起下载，成功返回下载 ID；传输本身异步进行
	Download(ctx context.Context, opts Options) (uint, error)

	// Search 按 ID 查询下载记录，找不到返回 ErrDownloadNotFound
	Search(ctx context.Context, id uint) (*model.Download, error)
}
