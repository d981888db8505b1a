package service

import (
	"context"
	"sync"
	"time"

	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	log "github.com/sirupsen/logrus"
)

// AppName 通知标题前缀
const AppName = "TorrentLink"

// Badge 角标文本和颜色
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

var (
	BadgeNone       = Badge{}
	BadgeProcessing = Badge{Text: "...", Color: "#ffbe0b"}
	BadgeSuccess    = Badge{Text: "✓", Color: "#00ff88"}
	BadgeDisabled   = Badge{Text: "OFF", Color: "#ff0000"}
)

// NotificationKind 通知类型
type NotificationKind string

const (
	NotifyComplete          NotificationKind = "complete"
	NotifyFailed            NotificationKind = "failed"
	NotifyConversionWarning NotificationKind = "conversion_warning"
)

// Notification 推送给前端的系统通知
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp int64            `json:"timestamp"`
}

// SettingsReader 读取当前设置
type SettingsReader interface {
	Get(ctx context.Context) model.Settings
}

// Notifier 把流水线结果映射为角标和通知，结果通过事件总线推给前端
type Notifier struct {
	bus        event.Bus
	settings   SettingsReader
	clearDelay time.Duration

	mu       sync.Mutex
	badge    Badge
	timer    *time.Timer
	enabled  *bool
	watchSub string
}

func NewNotifier(bus event.Bus, settings SettingsReader, clearDelay time.Duration) *Notifier {
	return &Notifier{
		bus:        bus,
		settings:   settings,
		clearDelay: clearDelay,
	}
}

// Badge 当前角标
func (n *Notifier) Badge() Badge {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.badge
}

// SetBadge 设置角标，同时取消还没触发的自动清除
func (n *Notifier) SetBadge(b Badge) {
	n.mu.Lock()
	n.stopTimerLocked()
	n.badge = b
	n.mu.Unlock()

	n.publishBadge(b)
}

// ClearBadge 清空角标
func (n *Notifier) ClearBadge() {
	n.SetBadge(BadgeNone)
}

// FlashBadge 设置角标，clearDelay 后自动清除
func (n *Notifier) FlashBadge(b Badge) {
	n.mu.Lock()
	n.stopTimerLocked()
	n.badge = b
	var timer *time.Timer
	timer = time.AfterFunc(n.clearDelay, func() {
		n.mu.Lock()
		// 期间被新的状态覆盖过就不清
		if n.timer != timer {
			n.mu.Unlock()
			return
		}
		n.timer = nil
		n.badge = BadgeNone
		n.mu.Unlock()
		n.publishBadge(BadgeNone)
	})
	n.timer = timer
	n.mu.Unlock()

	n.publishBadge(b)
}

func (n *Notifier) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Notifier) publishBadge(b Badge) {
	if n.bus != nil {
		n.bus.Publish(event.EventBadge, b)
	}
}

// Notify 发出系统通知，用户关闭了通知则什么都不做
func (n *Notifier) Notify(ctx context.Context, kind NotificationKind, title, message string) bool {
	if n.settings != nil && !n.settings.Get(ctx).ShowNotifications {
		return false
	}

	note := Notification{
		Kind:      kind,
		Title:     AppName + " - " + title,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
	log.WithFields(log.Fields{"kind": kind, "title": note.Title}).Info(message)

	if n.bus != nil {
		n.bus.Publish(event.EventNotification, note)
	}
	return true
}

// WatchSettings 总开关关闭时显示 OFF，重新打开时清除
func (n *Notifier) WatchSettings(ctx context.Context) {
	n.applyEnabled(n.settings.Get(ctx).Enabled)

	if n.bus == nil {
		return
	}
	n.mu.Lock()
	// 事件只作为触发信号，状态以重新读取的为准
	n.watchSub = n.bus.Subscribe(event.EventSettingsUpdated, func(event.Event) {
		n.applyEnabled(n.settings.Get(context.Background()).Enabled)
	})
	n.mu.Unlock()
}

// Stop 取消订阅和未触发的计时器
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopTimerLocked()
	if n.bus != nil && n.watchSub != "" {
		n.bus.Unsubscribe(event.EventSettingsUpdated, n.watchSub)
		n.watchSub = ""
	}
}

func (n *Notifier) applyEnabled(enabled bool) {
	n.mu.Lock()
	changed := n.enabled == nil || *n.enabled != enabled
	n.enabled = &enabled
	n.mu.Unlock()

	if !changed {
		return
	}
	if !enabled {
		n.SetBadge(BadgeDisabled)
	} else if n.Badge() == BadgeDisabled {
		n.ClearBadge()
	}
}
