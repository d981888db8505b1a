package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pokerjest/torrentlink/internal/downloader"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	log "github.com/sirupsen/logrus"
)

// DefaultMinTorrentSize 小于这个字节数的 .torrent 基本可以认为是错误页
const DefaultMinTorrentSize = 100

// validMimeTypes 转换服务正常返回的类型，空串表示服务器没给
var validMimeTypes = map[string]bool{
	"application/x-bittorrent": true,
	"application/octet-stream": true,
	"":                         true,
}

// Validator 磁力转换下载完成后的启发式检查，只告警，不动文件
type Validator struct {
	Facility downloader.Facility
	Notifier *Notifier
	Bus      event.Bus
	MinSize  int64
}

func NewValidator(facility downloader.Facility, notifier *Notifier, bus event.Bus, minSize int64) *Validator {
	if minSize <= 0 {
		minSize = DefaultMinTorrentSize
	}
	return &Validator{
		Facility: facility,
		Notifier: notifier,
		Bus:      bus,
		MinSize:  minSize,
	}
}

// Classify 按大小和 mime 判断结果是否可疑
func Classify(size int64, mime string, minSize int64) model.Verdict {
	if size < minSize || !validMimeTypes[mime] {
		return model.VerdictSuspect
	}
	return model.VerdictValid
}

// Validate checks a finished magnet conversion. A missing record returns
// downloader.ErrDownloadNotFound; a download that is not finished yet (or no
// longer on disk) returns ErrValidationInconclusive. Neither is shown to the user.
func (v *Validator) Validate(ctx context.Context, id uint) (model.ValidationResult, error) {
	download, err := v.Facility.Search(ctx, id)
	if err != nil {
		if errors.Is(err, downloader.ErrDownloadNotFound) {
			log.WithField("id", id).Error("Download not found for validation")
		} else {
			log.WithError(err).WithField("id", id).Error("Failed to look up download for validation")
		}
		return model.ValidationResult{}, err
	}

	if download.State != model.DownloadComplete || !download.Exists {
		log.WithFields(log.Fields{"id": id, "state": download.State}).Debug("Download not ready for validation")
		return model.ValidationResult{}, ErrValidationInconclusive
	}

	result := model.ValidationResult{
		DownloadID: id,
		Verdict:    Classify(download.FileSize, download.Mime, v.MinSize),
		Size:       download.FileSize,
		Mime:       download.Mime,
	}
	fields := log.Fields{
		"id":   id,
		"size": humanize.Bytes(uint64(download.FileSize)),
		"mime": download.Mime,
		"path": download.Path,
	}

	if result.Verdict == model.VerdictSuspect {
		log.WithFields(fields).Error("Downloaded file may not be valid .torrent")
		if v.Notifier != nil {
			v.Notifier.Notify(ctx, NotifyConversionWarning, "Conversion Warning",
				fmt.Sprintf("The downloaded file (%s) may not be valid. The torrent might not exist in the DHT network yet, or the conversion service is unavailable.",
					humanize.Bytes(uint64(download.FileSize))))
		}
	} else {
		log.WithFields(fields).Info("Torrent file validated")
	}

	if v.Bus != nil {
		v.Bus.Publish(event.EventValidation, result)
	}
	return result, nil
}
