package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pokerjest/torrentlink/internal/config"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// maxUniquify 同名文件最多尝试的编号
const maxUniquify = 100

const partSuffix = ".part"

// HTTPFacility 用 HTTP 把文件下载到本地目录，记录存 downloads 表
type HTTPFacility struct {
	client  *resty.Client
	db      *gorm.DB
	bus     event.Bus
	root    string
	limiter *rate.Limiter

	// 传输不跟随发起请求的 ctx，进程退出时统一取消
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	// 本进程内正在传输的记录
	activeMu sync.Mutex
	active   map[uint]struct{}
}

func NewHTTPFacility(db *gorm.DB, bus event.Bus, root string, cfg config.ResolverConfig) *HTTPFacility {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	// 单次尝试，中断就是终态
	client.SetRetryCount(0)

	// Middleware to log requests
	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		log.WithFields(log.Fields{"method": req.Method, "url": req.URL}).Debug("Outgoing request")
		return nil
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPFacility{
		client:  client,
		db:      db,
		bus:     bus,
		root:    root,
		limiter: limiter,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[uint]struct{}),
	}
}

// Close 取消进行中的传输并等待它们结束
func (f *HTTPFacility) Close() {
	f.cancel()
	f.wg.Wait()
}

// Wait 等待当前所有传输结束 (测试用)
func (f *HTTPFacility) Wait() {
	f.wg.Wait()
}

func (f *HTTPFacility) Download(ctx context.Context, opts Options) (uint, error) {
	if err := checkURL(opts.URL); err != nil {
		return 0, err
	}
	if opts.ConflictAction != "" && opts.ConflictAction != ConflictUniquify {
		return 0, fmt.Errorf("%w: %s", ErrInvalidConflict, opts.ConflictAction)
	}

	target, err := f.resolveTarget(opts.Filename)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("create download directory: %w", err)
	}

	path, err := f.reserve(target)
	if err != nil {
		return 0, err
	}

	if opts.SaveAs {
		// 无界面环境下没有另存为对话框，直接落到配置目录
		log.WithField("path", path).Info("Save-as prompt requested, saving to download directory")
	}

	record := model.Download{
		URL:      opts.URL,
		Filename: opts.Filename,
		Path:     path,
		State:    model.DownloadInProgress,
		SaveAs:   opts.SaveAs,
	}
	// 建记录和登记 active 要原子，否则 Sweep 可能误伤
	f.activeMu.Lock()
	if err := f.db.WithContext(ctx).Create(&record).Error; err != nil {
		f.activeMu.Unlock()
		os.Remove(path)
		return 0, fmt.Errorf("record download: %w", err)
	}
	f.active[record.ID] = struct{}{}
	f.activeMu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.transfer(record.ID, opts.URL, path)
	}()

	return record.ID, nil
}

func (f *HTTPFacility) Search(ctx context.Context, id uint) (*model.Download, error) {
	var record model.Download
	if err := f.db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDownloadNotFound
		}
		return nil, fmt.Errorf("search download %d: %w", id, err)
	}

	// exists 反映磁盘的当前状态
	if record.State == model.DownloadComplete {
		_, err := os.Stat(record.Path)
		record.Exists = err == nil
	}
	return &record, nil
}

// Sweep 把没有对应传输的 in_progress 记录标记为 interrupted，返回处理的条数。
// 进程异常退出后这些记录永远不会再变化。
func (f *HTTPFacility) Sweep(ctx context.Context) (int, error) {
	var stale []model.Download
	if err := f.db.WithContext(ctx).Where("state = ?", model.DownloadInProgress).Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("find in-progress downloads: %w", err)
	}

	swept := 0
	for _, rec := range stale {
		f.activeMu.Lock()
		_, running := f.active[rec.ID]
		f.activeMu.Unlock()
		if running {
			continue
		}

		now := time.Now()
		os.Remove(rec.Path)
		os.Remove(rec.Path + partSuffix)
		f.finish(rec.ID, map[string]interface{}{
			"state":    model.DownloadInterrupted,
			"error":    "orphaned transfer",
			"exists":   false,
			"end_time": &now,
		}, model.DownloadInterrupted)
		swept++
	}

	if swept > 0 {
		log.WithField("count", swept).Info("Marked orphaned downloads as interrupted")
	}
	return swept, nil
}

func (f *HTTPFacility) transfer(id uint, rawURL, path string) {
	size, mimeType, err := f.fetch(rawURL, path)
	now := time.Now()

	if err != nil {
		log.WithError(err).WithFields(log.Fields{"id": id, "url": rawURL}).Warn("Download interrupted")
		os.Remove(path)
		f.finish(id, map[string]interface{}{
			"state":    model.DownloadInterrupted,
			"error":    err.Error(),
			"exists":   false,
			"end_time": &now,
		}, model.DownloadInterrupted)
		return
	}

	log.WithFields(log.Fields{"id": id, "path": path, "size": size}).Info("Download complete")
	f.finish(id, map[string]interface{}{
		"state":     model.DownloadComplete,
		"file_size": size,
		"mime":      mimeType,
		"exists":    true,
		"end_time":  &now,
	}, model.DownloadComplete)
}

func (f *HTTPFacility) finish(id uint, updates map[string]interface{}, state model.DownloadState) {
	if err := f.db.Model(&model.Download{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		log.WithError(err).WithField("id", id).Error("Failed to update download record")
	}
	f.activeMu.Lock()
	delete(f.active, id)
	f.activeMu.Unlock()

	if f.bus != nil {
		f.bus.Publish(event.EventDownloadChanged, StateChange{
			ID:       id,
			Previous: model.DownloadInProgress,
			Current:  state,
		})
	}
}

func (f *HTTPFacility) fetch(rawURL, path string) (int64, string, error) {
	if err := f.limiter.Wait(f.ctx); err != nil {
		return 0, "", err
	}

	resp, err := f.client.R().
		SetContext(f.ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return 0, "", err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return 0, "", fmt.Errorf("server responded %s", resp.Status())
	}

	part := path + partSuffix
	out, err := os.Create(part)
	if err != nil {
		return 0, "", err
	}

	size, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(part)
		return 0, "", err
	}

	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return 0, "", err
	}

	return size, mediaType(resp.Header().Get("Content-Type")), nil
}

// resolveTarget 把相对文件名映射到下载根目录下，禁止逃逸
func (f *HTTPFacility) resolveTarget(filename string) (string, error) {
	if filename == "" || strings.HasPrefix(filename, "/") || filepath.IsAbs(filename) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}

	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", fmt.Errorf("resolve download root: %w", err)
	}
	target := filepath.Join(root, filepath.FromSlash(filename))

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return target, nil
}

// reserve 按 uniquify 规则占住一个不存在的文件名
func (f *HTTPFacility) reserve(target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ext := filepath.Ext(target)
	base := strings.TrimSuffix(target, ext)

	for i := 0; i < maxUniquify; i++ {
		candidate := target
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}

		file, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			file.Close()
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("reserve %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("reserve %s: too many files with the same name", target)
}

func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScheme, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidScheme)
	}
	return nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return mt
}
