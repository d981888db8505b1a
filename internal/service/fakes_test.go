package service

import (
	"context"
	"sync"
	"time"

	"github.com/pokerjest/torrentlink/internal/downloader"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
)

type fakeSettings struct {
	mu       sync.Mutex
	settings model.Settings
}

func newFakeSettings(mutate func(*model.Settings)) *fakeSettings {
	s := model.DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	return &fakeSettings{settings: s}
}

func (f *fakeSettings) Get(context.Context) model.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeSettings) setEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.Enabled = enabled
}

func (f *fakeSettings) AddHistory(_ context.Context, entry model.HistoryEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings.DownloadHistory = append([]model.HistoryEntry{entry}, f.settings.DownloadHistory...)
	return true
}

func (f *fakeSettings) history() []model.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.HistoryEntry{}, f.settings.DownloadHistory...)
}

type fakeFacility struct {
	mu       sync.Mutex
	requests []downloader.Options
	err      error
	records  map[uint]*model.Download
	nextID   uint
}

func newFakeFacility() *fakeFacility {
	return &fakeFacility{records: map[uint]*model.Download{}, nextID: 1}
}

func (f *fakeFacility) Download(_ context.Context, opts downloader.Options) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, opts)
	if f.err != nil {
		return 0, f.err
	}
	id := f.nextID
	f.nextID++
	f.records[id] = &model.Download{URL: opts.URL, Filename: opts.Filename, State: model.DownloadInProgress}
	f.records[id].ID = id
	return id, nil
}

func (f *fakeFacility) Search(_ context.Context, id uint) (*model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, downloader.ErrDownloadNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeFacility) put(rec model.Download) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = &rec
}

// collect 把某个主题的事件收集到 channel
func collect(bus event.Bus, topic event.EventType) chan event.Event {
	ch := make(chan event.Event, 16)
	bus.Subscribe(topic, func(e event.Event) { ch <- e })
	return ch
}

func waitNotification(ch chan event.Event, timeout time.Duration) (Notification, bool) {
	select {
	case e := <-ch:
		n, ok := e.Payload.(Notification)
		return n, ok
	case <-time.After(timeout):
		return Notification{}, false
	}
}
