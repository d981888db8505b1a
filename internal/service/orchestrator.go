package service

import (
	"context"
	"time"

	"github.com/pokerjest/torrentlink/internal/downloader"
	"github.com/pokerjest/torrentlink/internal/model"
	"github.com/pokerjest/torrentlink/internal/parser"
	log "github.com/sirupsen/logrus"
)

// SettingsService 编排器需要的设置操作
type SettingsService interface {
	SettingsReader
	AddHistory(ctx context.Context, entry model.HistoryEntry) bool
}

// Orchestrator 下载流水线：分类 -> 转换 -> 发起下载 -> 记历史 -> 安排校验
// 所有入口 (消息、右键菜单、REST) 都调用同一个实例
type Orchestrator struct {
	Settings        SettingsService
	Facility        downloader.Facility
	Notifier        *Notifier
	Validator       *Validator
	ResolverBaseURL string
	ValidationDelay time.Duration

	now      func() time.Time
	schedule func(d time.Duration, fn func())
}

func NewOrchestrator(settings SettingsService, facility downloader.Facility, notifier *Notifier, validator *Validator, resolverBaseURL string, validationDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		Settings:        settings,
		Facility:        facility,
		Notifier:        notifier,
		Validator:       validator,
		ResolverBaseURL: resolverBaseURL,
		ValidationDelay: validationDelay,
		now:             time.Now,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// ResolveURL 由 info-hash 拼出转换服务的 .torrent 地址
func (o *Orchestrator) ResolveURL(hash string) string {
	return o.ResolverBaseURL + hash + parser.TorrentExt
}

// DownloadTorrent runs one pipeline invocation and returns the download id.
// Settings are read once at the start and used for the whole invocation.
func (o *Orchestrator) DownloadTorrent(ctx context.Context, req model.DownloadRequest) (uint, error) {
	settings := o.Settings.Get(ctx)
	logger := log.WithFields(log.Fields{"url": req.URL, "magnet": req.IsMagnet})
	logger.Info("Starting download")

	downloadURL := req.URL
	var filename string

	if req.IsMagnet {
		o.Notifier.SetBadge(BadgeProcessing)

		hash, ok := parser.ExtractMagnetHash(req.URL)
		if !ok {
			o.Notifier.ClearBadge()
			return 0, ErrHashExtraction
		}

		downloadURL = o.ResolveURL(hash)
		filename = parser.ExtractMagnetName(req.URL) + parser.TorrentExt
		logger.WithFields(log.Fields{"hash": hash, "filename": filename}).Info("Converting magnet to .torrent")
	} else {
		filename = parser.TorrentFilename(req.Filename)
	}

	fullPath := filename
	if settings.DownloadPath != "" {
		fullPath = parser.SanitizePath(settings.DownloadPath) + "/" + filename
	}

	opts := downloader.Options{
		URL:            downloadURL,
		Filename:       fullPath,
		SaveAs:         !settings.AutoSave,
		ConflictAction: downloader.ConflictUniquify,
	}
	logger.WithFields(log.Fields{"target": opts.URL, "path": opts.Filename, "saveAs": opts.SaveAs}).Debug("Download options")

	id, err := o.Facility.Download(ctx, opts)
	if err != nil {
		o.Notifier.ClearBadge()
		logger.WithError(err).Error("Download error")
		return 0, &DownloadInitiationError{Err: err}
	}

	logger.WithField("id", id).Info("Download started successfully")

	if !o.Settings.AddHistory(ctx, model.HistoryEntry{
		Filename:  filename,
		URL:       req.URL,
		IsMagnet:  req.IsMagnet,
		Timestamp: o.now().UnixMilli(),
	}) {
		logger.Warn("Failed to add to download history")
	}

	if req.IsMagnet && o.Validator != nil {
		o.schedule(o.ValidationDelay, func() {
			o.Validator.Validate(context.Background(), id)
		})
	}

	return id, nil
}
