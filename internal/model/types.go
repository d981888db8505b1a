package model

import (
	"time"

	"gorm.io/gorm"
)

// GlobalConfig 存储设置 (单用户，每个设置项一行，Value 为 JSON)
type GlobalConfig struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// 持久化的设置项，和前端约定的 key 完全一致
const (
	ConfigKeyEnabled           = "enabled"
	ConfigKeyDownloadPath      = "downloadPath"
	ConfigKeyHighlightLinks    = "highlightLinks"
	ConfigKeyManagedDomains    = "managedDomains"
	ConfigKeyAutoSave          = "autoSave"
	ConfigKeyShowNotifications = "showNotifications"
	ConfigKeyDownloadHistory   = "downloadHistory"
)

// SettingsKeys lists every persisted settings key in storage order.
var SettingsKeys = []string{
	ConfigKeyEnabled,
	ConfigKeyDownloadPath,
	ConfigKeyHighlightLinks,
	ConfigKeyManagedDomains,
	ConfigKeyAutoSave,
	ConfigKeyShowNotifications,
	ConfigKeyDownloadHistory,
}

// HistoryLimit 下载历史最多保留的条数
const HistoryLimit = 10

// Settings 用户设置，读取时总是完整的 (缺失项用默认值补齐)
type Settings struct {
	Enabled           bool           `json:"enabled"`
	DownloadPath      string         `json:"downloadPath"`
	HighlightLinks    bool           `json:"highlightLinks"`
	ManagedDomains    []string       `json:"managedDomains"`
	AutoSave          bool           `json:"autoSave"`
	ShowNotifications bool           `json:"showNotifications"`
	DownloadHistory   []HistoryEntry `json:"downloadHistory"`
}

// DefaultSettings returns a fresh copy of the default settings.
func DefaultSettings() Settings {
	return Settings{
		Enabled:           true,
		DownloadPath:      "",
		HighlightLinks:    true,
		ManagedDomains:    []string{},
		AutoSave:          true,
		ShowNotifications: true,
		DownloadHistory:   []HistoryEntry{},
	}
}

// SettingsPatch 部分更新，nil 字段表示不修改
type SettingsPatch struct {
	Enabled           *bool           `json:"enabled,omitempty"`
	DownloadPath      *string         `json:"downloadPath,omitempty"`
	HighlightLinks    *bool           `json:"highlightLinks,omitempty"`
	ManagedDomains    *[]string       `json:"managedDomains,omitempty"`
	AutoSave          *bool           `json:"autoSave,omitempty"`
	ShowNotifications *bool           `json:"showNotifications,omitempty"`
	DownloadHistory   *[]HistoryEntry `json:"downloadHistory,omitempty"`
}

// FullPatch turns a complete Settings value into a patch touching every key.
func FullPatch(s Settings) SettingsPatch {
	domains := s.ManagedDomains
	history := s.DownloadHistory
	return SettingsPatch{
		Enabled:           &s.Enabled,
		DownloadPath:      &s.DownloadPath,
		HighlightLinks:    &s.HighlightLinks,
		ManagedDomains:    &domains,
		AutoSave:          &s.AutoSave,
		ShowNotifications: &s.ShowNotifications,
		DownloadHistory:   &history,
	}
}

// HistoryEntry 一次成功发起的下载
type HistoryEntry struct {
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	IsMagnet  bool   `json:"isMagnet"`
	Timestamp int64  `json:"timestamp"` // epoch ms
}

// DownloadRequest 前端发起的下载请求
type DownloadRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	IsMagnet bool   `json:"isMagnet"`
}

// DownloadState 下载任务状态
type DownloadState string

const (
	DownloadInProgress  DownloadState = "in_progress"
	DownloadComplete    DownloadState = "complete"
	DownloadInterrupted DownloadState = "interrupted"
)

// Download 记录下载任务，相当于浏览器的 downloads 列表
type Download struct {
	gorm.Model
	URL       string        `json:"url"`
	Filename  string        `json:"filename"` // 请求的相对路径
	Path      string        `json:"path"`     // 实际写入的绝对路径 (去重后)
	State     DownloadState `json:"state" gorm:"index"`
	FileSize  int64         `json:"fileSize"`
	Mime      string        `json:"mime"`
	Exists    bool          `json:"exists"`
	SaveAs    bool          `json:"saveAs"`
	Error     string        `json:"error"`
	EndTime   *time.Time    `json:"endTime"`
}

// Verdict 磁力转换结果的校验结论
type Verdict string

const (
	VerdictValid   Verdict = "valid"
	VerdictSuspect Verdict = "suspect"
)

// ValidationResult 校验结果
type ValidationResult struct {
	DownloadID uint    `json:"downloadId"`
	Verdict    Verdict `json:"verdict"`
	Size       int64   `json:"size"`
	Mime       string  `json:"mime"`
}
