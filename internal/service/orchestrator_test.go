package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pokerjest/torrentlink/internal/downloader"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testResolver = "https://resolver.test/torrent/"

type scheduled struct {
	delay time.Duration
	fn    func()
}

func newTestOrchestrator(settings *fakeSettings, facility *fakeFacility) (*Orchestrator, *[]scheduled, *event.InMemoryBus) {
	bus := event.NewInMemoryBus()
	notifier := NewNotifier(bus, settings, time.Hour)
	validator := NewValidator(facility, notifier, bus, DefaultMinTorrentSize)

	o := NewOrchestrator(settings, facility, notifier, validator, testResolver, 3*time.Second)
	o.now = func() time.Time { return time.UnixMilli(1700000000000) }

	var jobs []scheduled
	o.schedule = func(d time.Duration, fn func()) {
		jobs = append(jobs, scheduled{delay: d, fn: fn})
	}
	return o, &jobs, bus
}

func TestOrchestrator_MagnetEndToEnd(t *testing.T) {
	settings := newFakeSettings(func(s *model.Settings) {
		s.AutoSave = true
		s.DownloadPath = ""
	})
	facility := newFakeFacility()
	o, jobs, _ := newTestOrchestrator(settings, facility)

	magnet := "magnet:?xt=urn:btih:AAAA1111&dn=Test"
	id, err := o.DownloadTorrent(context.Background(), model.DownloadRequest{URL: magnet, IsMagnet: true})
	require.NoError(t, err)
	assert.Equal(t, uint(1), id)

	require.Len(t, facility.requests, 1)
	assert.Equal(t, downloader.Options{
		URL:            testResolver + "AAAA1111.torrent",
		Filename:       "Test.torrent",
		SaveAs:         false,
		ConflictAction: downloader.ConflictUniquify,
	}, facility.requests[0])

	history := settings.history()
	require.Len(t, history, 1)
	assert.Equal(t, model.HistoryEntry{
		Filename:  "Test.torrent",
		URL:       magnet,
		IsMagnet:  true,
		Timestamp: 1700000000000,
	}, history[0])

	// 磁力下载安排 3 秒后校验
	require.Len(t, *jobs, 1)
	assert.Equal(t, 3*time.Second, (*jobs)[0].delay)

	// 校验前角标保持 "处理中"
	assert.Equal(t, BadgeProcessing, o.Notifier.Badge())
}

func TestOrchestrator_HashLowercaseIsUppercased(t *testing.T) {
	facility := newFakeFacility()
	o, _, _ := newTestOrchestrator(newFakeSettings(nil), facility)

	_, err := o.DownloadTorrent(context.Background(), model.DownloadRequest{
		URL:      "magnet:?xt=urn:btih:abc123def",
		IsMagnet: true,
	})
	require.NoError(t, err)
	assert.Equal(t, testResolver+"ABC123DEF.torrent", facility.requests[0].URL)
	assert.Equal(t, "download.torrent", facility.requests[0].Filename)
}

func TestOrchestrator_DirectDownloadWithPath(t *testing.T) {
	settings := newFakeSettings(func(s *model.Settings) {
		s.DownloadPath = "Downloads/Torrents"
		s.AutoSave = false
	})
	facility := newFakeFacility()
	o, jobs, _ := newTestOrchestrator(settings, facility)

	url := "https://tracker.example.org/files/movie.torrent"
	_, err := o.DownloadTorrent(context.Background(), model.DownloadRequest{URL: url, Filename: "movie.torrent"})
	require.NoError(t, err)

	require.Len(t, facility.requests, 1)
	req := facility.requests[0]
	assert.Equal(t, url, req.URL)
	assert.Equal(t, "Downloads/Torrents/movie.torrent", req.Filename)
	assert.True(t, req.SaveAs)

	history := settings.history()
	require.Len(t, history, 1)
	assert.Equal(t, "movie.torrent", history[0].Filename)
	assert.False(t, history[0].IsMagnet)

	// 普通种子不做校验
	assert.Empty(t, *jobs)
	assert.Equal(t, BadgeNone, o.Notifier.Badge())
}

func TestOrchestrator_SanitizesPathAndName(t *testing.T) {
	settings := newFakeSettings(func(s *model.Settings) {
		s.DownloadPath = `My:Torrents*`
	})
	facility := newFakeFacility()
	o, _, _ := newTestOrchestrator(settings, facility)

	_, err := o.DownloadTorrent(context.Background(), model.DownloadRequest{
		URL:      "https://x.org/get?id=1",
		Filename: "bad|name?.torrent",
	})
	require.NoError(t, err)
	assert.Equal(t, "My_Torrents_/bad_name.torrent", facility.requests[0].Filename)
}

func TestOrchestrator_HashExtractionError(t *testing.T) {
	settings := newFakeSettings(nil)
	facility := newFakeFacility()
	o, jobs, _ := newTestOrchestrator(settings, facility)

	_, err := o.DownloadTorrent(context.Background(), model.DownloadRequest{
		URL:      "magnet:?xt=urn:sha1:deadbeef&dn=x",
		IsMagnet: true,
	})
	assert.ErrorIs(t, err, ErrHashExtraction)
	assert.Empty(t, facility.requests)
	assert.Empty(t, settings.history())
	assert.Empty(t, *jobs)
	assert.Equal(t, BadgeNone, o.Notifier.Badge())
}

func TestOrchestrator_InitiationError(t *testing.T) {
	settings := newFakeSettings(nil)
	facility := newFakeFacility()
	facility.err = errors.New("disk full")
	o, jobs, _ := newTestOrchestrator(settings, facility)

	_, err := o.DownloadTorrent(context.Background(), model.DownloadRequest{
		URL:      "magnet:?xt=urn:btih:AAAA1111&dn=Test",
		IsMagnet: true,
	})

	var initErr *DownloadInitiationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "disk full", initErr.Error())
	assert.Empty(t, settings.history())
	assert.Empty(t, *jobs)
	assert.Equal(t, BadgeNone, o.Notifier.Badge())
}

func TestOrchestrator_ScheduledValidationRuns(t *testing.T) {
	settings := newFakeSettings(nil)
	facility := newFakeFacility()
	o, jobs, bus := newTestOrchestrator(settings, facility)
	results := collect(bus, event.EventValidation)

	id, err := o.DownloadTorrent(context.Background(), model.DownloadRequest{
		URL:      "magnet:?xt=urn:btih:AAAA1111&dn=Test",
		IsMagnet: true,
	})
	require.NoError(t, err)

	rec := model.Download{State: model.DownloadComplete, Exists: true, FileSize: 2048, Mime: "application/x-bittorrent"}
	rec.ID = id
	facility.put(rec)

	require.Len(t, *jobs, 1)
	(*jobs)[0].fn()

	select {
	case e := <-results:
		res := e.Payload.(model.ValidationResult)
		assert.Equal(t, id, res.DownloadID)
		assert.Equal(t, model.VerdictValid, res.Verdict)
	case <-time.After(time.Second):
		t.Fatal("validation result not published")
	}
}
