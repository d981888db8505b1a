package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pokerjest/torrentlink/internal/config"
	"github.com/pokerjest/torrentlink/internal/db"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var torrentBody = []byte("d8:announce35:udp://tracker.example.org:1337/announce4:infod6:lengthi1024e4:name8:test.bin12:piece lengthi16384eee")

func newTestFacility(t *testing.T) (*HTTPFacility, *event.InMemoryBus, string) {
	t.Helper()

	dir := t.TempDir()
	gdb, err := db.Open(filepath.Join(dir, "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(gdb) })

	bus := event.NewInMemoryBus()
	root := filepath.Join(dir, "out")
	f := NewHTTPFacility(gdb, bus, root, config.ResolverConfig{Timeout: 5 * time.Second})
	t.Cleanup(f.Close)
	return f, bus, root
}

func newResolver(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/torrent/GOOD.torrent":
			w.Header().Set("Content-Type", "application/x-bittorrent")
			w.Write(torrentBody)
		case "/torrent/HTML.torrent":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html>not found</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFacility_DownloadComplete(t *testing.T) {
	f, bus, root := newTestFacility(t)
	srv := newResolver(t)

	changes := make(chan StateChange, 1)
	bus.Subscribe(event.EventDownloadChanged, func(e event.Event) {
		changes <- e.Payload.(StateChange)
	})

	id, err := f.Download(context.Background(), Options{
		URL:            srv.URL + "/torrent/GOOD.torrent",
		Filename:       "sub/dir/test.torrent",
		ConflictAction: ConflictUniquify,
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	select {
	case c := <-changes:
		assert.Equal(t, id, c.ID)
		assert.Equal(t, model.DownloadInProgress, c.Previous)
		assert.Equal(t, model.DownloadComplete, c.Current)
	case <-time.After(5 * time.Second):
		t.Fatal("no state change published")
	}

	rec, err := f.Search(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.DownloadComplete, rec.State)
	assert.Equal(t, int64(len(torrentBody)), rec.FileSize)
	assert.Equal(t, "application/x-bittorrent", rec.Mime)
	assert.True(t, rec.Exists)

	data, err := os.ReadFile(filepath.Join(root, "sub", "dir", "test.torrent"))
	require.NoError(t, err)
	assert.Equal(t, torrentBody, data)
}

func TestHTTPFacility_MimeWithoutParams(t *testing.T) {
	f, _, _ := newTestFacility(t)
	srv := newResolver(t)

	id, err := f.Download(context.Background(), Options{URL: srv.URL + "/torrent/HTML.torrent", Filename: "x.torrent"})
	require.NoError(t, err)
	f.Wait()

	rec, err := f.Search(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "text/html", rec.Mime)
}

func TestHTTPFacility_Interrupted(t *testing.T) {
	f, _, root := newTestFacility(t)
	srv := newResolver(t)

	id, err := f.Download(context.Background(), Options{URL: srv.URL + "/torrent/MISSING.torrent", Filename: "missing.torrent"})
	require.NoError(t, err)
	f.Wait()

	rec, err := f.Search(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.DownloadInterrupted, rec.State)
	assert.Contains(t, rec.Error, "404")
	assert.False(t, rec.Exists)

	_, err = os.Stat(filepath.Join(root, "missing.torrent"))
	assert.True(t, os.IsNotExist(err), "placeholder should be removed")
}

func TestHTTPFacility_Uniquify(t *testing.T) {
	f, _, root := newTestFacility(t)
	srv := newResolver(t)

	opts := Options{URL: srv.URL + "/torrent/GOOD.torrent", Filename: "movie.torrent", ConflictAction: ConflictUniquify}
	first, err := f.Download(context.Background(), opts)
	require.NoError(t, err)
	second, err := f.Download(context.Background(), opts)
	require.NoError(t, err)
	f.Wait()

	a, err := f.Search(context.Background(), first)
	require.NoError(t, err)
	b, err := f.Search(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "movie.torrent"), a.Path)
	assert.Equal(t, filepath.Join(root, "movie (1).torrent"), b.Path)
	assert.True(t, a.Exists)
	assert.True(t, b.Exists)
}

func TestHTTPFacility_RejectsBadRequests(t *testing.T) {
	f, _, _ := newTestFacility(t)

	cases := []struct {
		Name string
		Opts Options
		Err  error
	}{
		{"magnet scheme", Options{URL: "magnet:?xt=urn:btih:AAAA", Filename: "a.torrent"}, ErrInvalidScheme},
		{"file scheme", Options{URL: "file:///etc/passwd", Filename: "a.torrent"}, ErrInvalidScheme},
		{"no host", Options{URL: "http:///x.torrent", Filename: "a.torrent"}, ErrInvalidScheme},
		{"empty filename", Options{URL: "https://x.org/a.torrent", Filename: ""}, ErrInvalidFilename},
		{"absolute filename", Options{URL: "https://x.org/a.torrent", Filename: "/etc/a.torrent"}, ErrInvalidFilename},
		{"escaping filename", Options{URL: "https://x.org/a.torrent", Filename: "../../a.torrent"}, ErrInvalidFilename},
		{"overwrite", Options{URL: "https://x.org/a.torrent", Filename: "a.torrent", ConflictAction: "overwrite"}, ErrInvalidConflict},
	}

	for _, c := range cases {
		_, err := f.Download(context.Background(), c.Opts)
		assert.True(t, errors.Is(err, c.Err), "%s: expected %v, got %v", c.Name, c.Err, err)
	}
}

func TestHTTPFacility_SearchMissing(t *testing.T) {
	f, _, _ := newTestFacility(t)

	_, err := f.Search(context.Background(), 4242)
	assert.ErrorIs(t, err, ErrDownloadNotFound)
}

func TestHTTPFacility_ExistsReflectsDisk(t *testing.T) {
	f, _, _ := newTestFacility(t)
	srv := newResolver(t)

	id, err := f.Download(context.Background(), Options{URL: srv.URL + "/torrent/GOOD.torrent", Filename: "gone.torrent"})
	require.NoError(t, err)
	f.Wait()

	rec, err := f.Search(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, os.Remove(rec.Path))

	rec, err = f.Search(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, rec.Exists)
}

func TestHTTPFacility_SweepOrphans(t *testing.T) {
	f, _, root := newTestFacility(t)

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(torrentBody)
	}))
	t.Cleanup(slow.Close)
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	// 上次运行遗留的记录
	require.NoError(t, os.MkdirAll(root, 0755))
	orphanPath := filepath.Join(root, "orphan.torrent")
	require.NoError(t, os.WriteFile(orphanPath, nil, 0644))
	orphan := model.Download{URL: "https://x.test/orphan.torrent", Filename: "orphan.torrent", Path: orphanPath, State: model.DownloadInProgress}
	require.NoError(t, f.db.Create(&orphan).Error)

	running, err := f.Download(context.Background(), Options{URL: slow.URL + "/a.torrent", Filename: "running.torrent"})
	require.NoError(t, err)

	n, err := f.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.Search(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DownloadInterrupted, rec.State)
	_, err = os.Stat(orphanPath)
	assert.True(t, os.IsNotExist(err))

	unblock()
	f.Wait()

	rec, err = f.Search(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, model.DownloadComplete, rec.State)

	n, err = f.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
