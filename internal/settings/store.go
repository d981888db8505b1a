package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	log "github.com/sirupsen/logrus"
)

// busSource 本 Store 发布事件时使用的来源标识
const busSource = "settings"

// PersistenceError 存储层读写失败，总是在本地被恢复 (回退默认值或返回 false)
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settings %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// DomainResult.Message 的取值
const (
	MsgDomainExists = "Domain already exists"
	MsgSaveFailed   = "Failed to save settings"
)

// DomainResult 托管域名增删的返回值
type DomainResult struct {
	Success bool     `json:"success"`
	Domains []string `json:"domains,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Store 设置服务：带进程内缓存，收到外部推送时失效
type Store struct {
	kv  KV
	bus event.Bus
	now func() time.Time

	mu    sync.RWMutex
	cache *model.Settings
	// gen 每次 Invalidate 加一，读回源期间被失效过的结果不进缓存
	gen   uint64
	subID string
}

func NewStore(kv KV, bus event.Bus) *Store {
	s := &Store{
		kv:  kv,
		bus: bus,
		now: time.Now,
	}
	if bus != nil {
		s.subID = bus.Subscribe(event.EventSettingsUpdated, func(e event.Event) {
			if e.Source != busSource {
				s.Invalidate()
			}
		})
	}
	return s
}

// Close 取消事件订阅
func (s *Store) Close() {
	if s.bus != nil && s.subID != "" {
		s.bus.Unsubscribe(event.EventSettingsUpdated, s.subID)
	}
}

// Invalidate 丢弃缓存，下次读取时回源
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.gen++
	s.mu.Unlock()
}

// Get returns the full settings, defaults merged with whatever is persisted.
// Storage errors are logged and the defaults are returned instead.
func (s *Store) Get(ctx context.Context) model.Settings {
	s.mu.RLock()
	if s.cache != nil {
		cached := clone(*s.cache)
		s.mu.RUnlock()
		return cached
	}
	gen := s.gen
	s.mu.RUnlock()

	values, err := s.kv.Load(ctx, model.SettingsKeys)
	if err != nil {
		log.WithError(&PersistenceError{Op: "read", Err: err}).Error("Failed to get settings, using defaults")
		return model.DefaultSettings()
	}

	settings := decode(values)

	s.mu.Lock()
	if s.gen == gen {
		cached := clone(settings)
		s.cache = &cached
	}
	s.mu.Unlock()

	return settings
}

// Save persists the given keys only; keys absent from the patch keep their
// stored value. Returns false when the storage layer fails.
func (s *Store) Save(ctx context.Context, patch model.SettingsPatch) bool {
	values, err := encode(patch)
	if err != nil {
		log.WithError(err).Error("Failed to encode settings")
		return false
	}

	if err := s.kv.Store(ctx, values); err != nil {
		log.WithError(&PersistenceError{Op: "write", Err: err}).Error("Failed to save settings")
		s.Invalidate()
		return false
	}

	s.Invalidate()
	merged := s.Get(ctx)
	log.WithField("keys", len(values)).Debug("Settings saved successfully")

	// 通知所有页面，没人监听也无所谓
	if s.bus != nil {
		s.bus.PublishFrom(busSource, event.EventSettingsUpdated, merged)
	}
	return true
}

// AddManagedDomain appends domain unless an identical entry already exists.
func (s *Store) AddManagedDomain(ctx context.Context, domain string) DomainResult {
	settings := s.Get(ctx)
	for _, d := range settings.ManagedDomains {
		if d == domain {
			return DomainResult{Success: false, Message: MsgDomainExists}
		}
	}

	domains := append(settings.ManagedDomains, domain)
	if !s.Save(ctx, model.SettingsPatch{ManagedDomains: &domains}) {
		return DomainResult{Success: false, Message: MsgSaveFailed}
	}

	log.WithField("domain", domain).Info("Domain added")
	return DomainResult{Success: true, Domains: domains}
}

// RemoveManagedDomain drops every exact match; removing an unknown domain is fine.
func (s *Store) RemoveManagedDomain(ctx context.Context, domain string) DomainResult {
	settings := s.Get(ctx)
	domains := make([]string, 0, len(settings.ManagedDomains))
	for _, d := range settings.ManagedDomains {
		if d != domain {
			domains = append(domains, d)
		}
	}

	s.Save(ctx, model.SettingsPatch{ManagedDomains: &domains})
	log.WithField("domain", domain).Info("Domain removed")
	return DomainResult{Success: true, Domains: domains}
}

// AddHistory 头插一条历史，保留最近 HistoryLimit 条
func (s *Store) AddHistory(ctx context.Context, entry model.HistoryEntry) bool {
	if entry.Timestamp == 0 {
		entry.Timestamp = s.now().UnixMilli()
	}

	history := s.Get(ctx).DownloadHistory
	next := make([]model.HistoryEntry, 0, model.HistoryLimit)
	next = append(next, entry)
	next = append(next, history...)
	if len(next) > model.HistoryLimit {
		next = next[:model.HistoryLimit]
	}

	if !s.Save(ctx, model.SettingsPatch{DownloadHistory: &next}) {
		return false
	}
	log.WithField("filename", entry.Filename).Info("Added to download history")
	return true
}

// ClearHistory 清空下载历史
func (s *Store) ClearHistory(ctx context.Context) bool {
	empty := []model.HistoryEntry{}
	return s.Save(ctx, model.SettingsPatch{DownloadHistory: &empty})
}

// Reset 恢复默认设置，下载历史保留
func (s *Store) Reset(ctx context.Context) bool {
	patch := model.FullPatch(model.DefaultSettings())
	patch.DownloadHistory = nil
	return s.Save(ctx, patch)
}

// Initialize 启动时把缺失的 key 用默认值写回存储
func (s *Store) Initialize(ctx context.Context) bool {
	return s.Save(ctx, model.FullPatch(s.Get(ctx)))
}

func decode(values map[string]string) model.Settings {
	settings := model.DefaultSettings()
	targets := map[string]interface{}{
		model.ConfigKeyEnabled:           &settings.Enabled,
		model.ConfigKeyDownloadPath:      &settings.DownloadPath,
		model.ConfigKeyHighlightLinks:    &settings.HighlightLinks,
		model.ConfigKeyManagedDomains:    &settings.ManagedDomains,
		model.ConfigKeyAutoSave:          &settings.AutoSave,
		model.ConfigKeyShowNotifications: &settings.ShowNotifications,
		model.ConfigKeyDownloadHistory:   &settings.DownloadHistory,
	}

	defaults := model.DefaultSettings()
	for key, target := range targets {
		raw, ok := values[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			log.WithError(err).WithField("key", key).Warn("Ignoring corrupt settings value")
			restoreDefault(&settings, defaults, key)
		}
	}

	// null 值也按默认处理
	if settings.ManagedDomains == nil {
		settings.ManagedDomains = []string{}
	}
	if settings.DownloadHistory == nil {
		settings.DownloadHistory = []model.HistoryEntry{}
	}
	return settings
}

func restoreDefault(settings *model.Settings, defaults model.Settings, key string) {
	switch key {
	case model.ConfigKeyEnabled:
		settings.Enabled = defaults.Enabled
	case model.ConfigKeyDownloadPath:
		settings.DownloadPath = defaults.DownloadPath
	case model.ConfigKeyHighlightLinks:
		settings.HighlightLinks = defaults.HighlightLinks
	case model.ConfigKeyManagedDomains:
		settings.ManagedDomains = defaults.ManagedDomains
	case model.ConfigKeyAutoSave:
		settings.AutoSave = defaults.AutoSave
	case model.ConfigKeyShowNotifications:
		settings.ShowNotifications = defaults.ShowNotifications
	case model.ConfigKeyDownloadHistory:
		settings.DownloadHistory = defaults.DownloadHistory
	}
}

func encode(patch model.SettingsPatch) (map[string]string, error) {
	fields := map[string]interface{}{}
	if patch.Enabled != nil {
		fields[model.ConfigKeyEnabled] = *patch.Enabled
	}
	if patch.DownloadPath != nil {
		fields[model.ConfigKeyDownloadPath] = *patch.DownloadPath
	}
	if patch.HighlightLinks != nil {
		fields[model.ConfigKeyHighlightLinks] = *patch.HighlightLinks
	}
	if patch.ManagedDomains != nil {
		domains := *patch.ManagedDomains
		if domains == nil {
			domains = []string{}
		}
		fields[model.ConfigKeyManagedDomains] = domains
	}
	if patch.AutoSave != nil {
		fields[model.ConfigKeyAutoSave] = *patch.AutoSave
	}
	if patch.ShowNotifications != nil {
		fields[model.ConfigKeyShowNotifications] = *patch.ShowNotifications
	}
	if patch.DownloadHistory != nil {
		history := *patch.DownloadHistory
		if history == nil {
			history = []model.HistoryEntry{}
		}
		fields[model.ConfigKeyDownloadHistory] = history
	}

	values := make(map[string]string, len(fields))
	for key, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		values[key] = string(data)
	}
	return values, nil
}

func clone(s model.Settings) model.Settings {
	out := s
	out.ManagedDomains = append([]string{}, s.ManagedDomains...)
	out.DownloadHistory = append([]model.HistoryEntry{}, s.DownloadHistory...)
	return out
}
