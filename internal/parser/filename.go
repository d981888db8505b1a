package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultFilename 无法得到有效文件名时的兜底
	DefaultFilename = "download"
	// TorrentExt 种子文件扩展名
	TorrentExt = ".torrent"
	// MaxFilenameLength 文件名最大长度 (按字符计)
	MaxFilenameLength = 200
)

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	invalidPathChars     = regexp.MustCompile(`[<>:"\\|?*\x00-\x1F]`)
	separatorRuns        = regexp.MustCompile(`[\s\p{Z}_]+`)
	edgeDotsUnderscores  = regexp.MustCompile(`^[._]+|[._]+$`)
)

// SanitizeFilename makes name safe to use as a single path segment.
// It is idempotent and never returns an empty string.
func SanitizeFilename(name string) string {
	if name == "" {
		return DefaultFilename
	}

	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = separatorRuns.ReplaceAllString(sanitized, "_")
	sanitized = trimEdges(sanitized)

	if runes := []rune(sanitized); len(runes) > MaxFilenameLength {
		// 截断后可能又露出 . 或 _，需要再修一次边
		sanitized = trimEdges(string(runes[:MaxFilenameLength]))
	}

	if sanitized == "" {
		return DefaultFilename
	}
	return sanitized
}

func trimEdges(s string) string {
	for {
		trimmed := edgeDotsUnderscores.ReplaceAllString(strings.TrimSpace(s), "")
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// SanitizePath 清理用户配置的下载子目录，保留 / 分隔符
func SanitizePath(path string) string {
	return invalidPathChars.ReplaceAllString(path, "_")
}

// TorrentFilename 普通种子链接的最终文件名
func TorrentFilename(name string) string {
	if len(name) >= len(TorrentExt) && strings.EqualFold(name[len(name)-len(TorrentExt):], TorrentExt) {
		name = name[:len(name)-len(TorrentExt)]
	}
	return SanitizeFilename(name) + TorrentExt
}

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// TimeAgo 把毫秒时间戳格式化为相对时间，用于历史列表
// 取最大的整数单位: y / mo / w / d / h / m
func TimeAgo(timestamp int64, now time.Time) string {
	diff := now.Sub(time.UnixMilli(timestamp))

	switch {
	case diff >= year:
		return fmt.Sprintf("%dy ago", int(diff/year))
	case diff >= month:
		return fmt.Sprintf("%dmo ago", int(diff/month))
	case diff >= week:
		return fmt.Sprintf("%dw ago", int(diff/week))
	case diff >= day:
		return fmt.Sprintf("%dd ago", int(diff/day))
	case diff >= time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff >= time.Minute:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	default:
		return "Just now"
	}
}
