package service

import (
	"context"

	"github.com/pokerjest/torrentlink/internal/downloader"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	log "github.com/sirupsen/logrus"
)

// Monitor 监听全部下载的状态变化，完成/中断时更新角标并通知
// 中断不重试，一次尝试即终态
type Monitor struct {
	bus      event.Bus
	notifier *Notifier
	subID    string
}

func NewMonitor(bus event.Bus, notifier *Notifier) *Monitor {
	return &Monitor{bus: bus, notifier: notifier}
}

func (m *Monitor) Start() {
	m.subID = m.bus.Subscribe(event.EventDownloadChanged, func(e event.Event) {
		change, ok := e.Payload.(downloader.StateChange)
		if !ok {
			return
		}
		m.Handle(context.Background(), change)
	})
	log.Info("Download monitor started")
}

func (m *Monitor) Stop() {
	if m.subID != "" {
		m.bus.Unsubscribe(event.EventDownloadChanged, m.subID)
		m.subID = ""
	}
}

// Handle 处理一次状态变化
func (m *Monitor) Handle(ctx context.Context, change downloader.StateChange) {
	switch change.Current {
	case model.DownloadComplete:
		m.notifier.FlashBadge(BadgeSuccess)
		m.notifier.Notify(ctx, NotifyComplete, "Download Complete", "Your torrent file has been downloaded successfully.")
	case model.DownloadInterrupted:
		m.notifier.ClearBadge()
		m.notifier.Notify(ctx, NotifyFailed, "Download Failed", "The torrent file download was interrupted.")
	}
}
