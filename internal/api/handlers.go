package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/torrentlink/internal/downloader"
	"github.com/pokerjest/torrentlink/internal/event"
	"github.com/pokerjest/torrentlink/internal/model"
	"github.com/pokerjest/torrentlink/internal/parser"
	"github.com/pokerjest/torrentlink/internal/service"
	"github.com/pokerjest/torrentlink/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Handler 持有所有依赖，路由都挂在它的方法上
type Handler struct {
	Settings     *settings.Store
	Orchestrator *service.Orchestrator
	Notifier     *service.Notifier
	Facility     downloader.Facility
	Bus          event.Bus
}

// DownloadResponse downloadTorrent 的返回
type DownloadResponse struct {
	Success    bool   `json:"success"`
	DownloadID uint   `json:"downloadId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SuccessResponse 只有成功标志的返回
type SuccessResponse struct {
	Success bool `json:"success"`
}

// LinkInfo classifyLink 的返回
type LinkInfo struct {
	Kind      parser.LinkKind `json:"kind"`
	IsTorrent bool            `json:"isTorrent"`
	IsMagnet  bool            `json:"isMagnet"`
	Hash      string          `json:"hash,omitempty"`
	Name      string          `json:"name,omitempty"`
	// Managed 链接的 host 属于用户配置的托管域名
	Managed   bool            `json:"managed"`
}

// HistoryItem 历史条目加上相对时间
type HistoryItem struct {
	model.HistoryEntry
	Ago string `json:"ago"`
}

// Dispatch handles one decoded message and returns the HTTP status and body.
func (h *Handler) Dispatch(ctx context.Context, req Request) (int, interface{}) {
	switch r := req.(type) {
	case DownloadTorrentRequest:
		return h.download(ctx, model.DownloadRequest{URL: r.URL, Filename: r.Filename, IsMagnet: r.IsMagnet})
	case GetSettingsRequest:
		return http.StatusOK, h.Settings.Get(ctx)
	case SaveSettingsRequest:
		log.WithField("settings", r.Settings).Debug("Saving settings")
		return http.StatusOK, SuccessResponse{Success: h.Settings.Save(ctx, r.Settings)}
	case AddManagedDomainRequest:
		return http.StatusOK, h.Settings.AddManagedDomain(ctx, r.Domain)
	case RemoveManagedDomainRequest:
		return http.StatusOK, h.Settings.RemoveManagedDomain(ctx, r.Domain)
	case ClearHistoryRequest:
		return http.StatusOK, SuccessResponse{Success: h.Settings.ClearHistory(ctx)}
	case ResetSettingsRequest:
		return http.StatusOK, SuccessResponse{Success: h.Settings.Reset(ctx)}
	case ClassifyLinkRequest:
		return http.StatusOK, classify(r.URL, h.Settings.Get(ctx).ManagedDomains)
	default:
		return http.StatusBadRequest, gin.H{"success": false, "error": ErrUnknownAction.Error()}
	}
}

func (h *Handler) download(ctx context.Context, req model.DownloadRequest) (int, interface{}) {
	id, err := h.Orchestrator.DownloadTorrent(ctx, req)
	if err != nil {
		log.WithError(err).Error("Download failed")
		return http.StatusOK, DownloadResponse{Success: false, Error: err.Error()}
	}
	return http.StatusOK, DownloadResponse{Success: true, DownloadID: id}
}

func classify(href string, managedDomains []string) LinkInfo {
	info := LinkInfo{
		Kind:      parser.ClassifyLink(href),
		IsTorrent: parser.IsTorrentLink(href),
		IsMagnet:  parser.IsMagnetLink(href),
	}
	// 磁力链没有 host，永远不算托管
	if u, err := url.Parse(href); err == nil {
		info.Managed = parser.MatchesDomain(u.Hostname(), managedDomains)
	}
	if info.IsMagnet {
		info.Hash, _ = parser.ExtractMagnetHash(href)
		info.Name = parser.ExtractMagnetName(href)
	}
	return info
}

// MessageHandler POST /api/message，一个请求对应一个响应
func (h *Handler) MessageHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	req, err := DecodeRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	status, resp := h.Dispatch(c.Request.Context(), req)
	c.JSON(status, resp)
}

func (h *Handler) GetSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.Settings.Get(c.Request.Context()))
}

func (h *Handler) SaveSettingsHandler(c *gin.Context) {
	var patch model.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	ok := h.Settings.Save(c.Request.Context(), patch)
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, SuccessResponse{Success: ok})
}

func (h *Handler) ResetSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: h.Settings.Reset(c.Request.Context())})
}

func (h *Handler) AddDomainHandler(c *gin.Context) {
	var req AddManagedDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Domain == "" {
		c.JSON(http.StatusBadRequest, settings.DomainResult{Success: false, Message: "domain is required"})
		return
	}
	res := h.Settings.AddManagedDomain(c.Request.Context(), req.Domain)
	status := http.StatusOK
	switch {
	case res.Success:
	case res.Message == settings.MsgDomainExists:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

func (h *Handler) RemoveDomainHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.Settings.RemoveManagedDomain(c.Request.Context(), c.Param("domain")))
}

func (h *Handler) HistoryHandler(c *gin.Context) {
	now := time.Now()
	history := h.Settings.Get(c.Request.Context()).DownloadHistory
	items := make([]HistoryItem, 0, len(history))
	for _, e := range history {
		items = append(items, HistoryItem{HistoryEntry: e, Ago: parser.TimeAgo(e.Timestamp, now)})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

func (h *Handler) ClearHistoryHandler(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: h.Settings.ClearHistory(c.Request.Context())})
}

func (h *Handler) CreateDownloadHandler(c *gin.Context) {
	var req model.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, DownloadResponse{Success: false, Error: err.Error()})
		return
	}

	id, err := h.Orchestrator.DownloadTorrent(c.Request.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, service.ErrHashExtraction) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, DownloadResponse{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, DownloadResponse{Success: true, DownloadID: id})
}

func (h *Handler) GetDownloadHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	rec, err := h.Facility.Search(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, downloader.ErrDownloadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ContextMenuHandler 右键菜单 "Download Torrent File"
func (h *Handler) ContextMenuHandler(c *gin.Context) {
	var req struct {
		LinkURL string `json:"linkUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.LinkURL == "" {
		c.JSON(http.StatusBadRequest, DownloadResponse{Success: false, Error: "linkUrl is required"})
		return
	}

	status, resp := h.download(c.Request.Context(), model.DownloadRequest{
		URL:      req.LinkURL,
		Filename: parser.FilenameFromURL(req.LinkURL),
		IsMagnet: parser.IsMagnetLink(req.LinkURL),
	})
	if r, ok := resp.(DownloadResponse); ok && r.Success {
		log.WithField("id", r.DownloadID).Info("Download started from context menu")
	}
	c.JSON(status, resp)
}

func (h *Handler) BadgeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.Notifier.Badge())
}
