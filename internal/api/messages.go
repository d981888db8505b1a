package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pokerjest/torrentlink/internal/model"
)

// ErrUnknownAction 未知的 action
var ErrUnknownAction = errors.New("unknown action")

// Request 前端发来的消息，封闭集合，只能是本文件里定义的类型
type Request interface {
	action() string
}

type DownloadTorrentRequest struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	IsMagnet bool   `json:"isMagnet"`
}

type GetSettingsRequest struct{}

type SaveSettingsRequest struct {
	Settings model.SettingsPatch `json:"settings"`
}

type AddManagedDomainRequest struct {
	Domain string `json:"domain"`
}

type RemoveManagedDomainRequest struct {
	Domain string `json:"domain"`
}

type ClearHistoryRequest struct{}

type ResetSettingsRequest struct{}

type ClassifyLinkRequest struct {
	URL string `json:"url"`
}

func (DownloadTorrentRequest) action() string     { return "downloadTorrent" }
func (GetSettingsRequest) action() string         { return "getSettings" }
func (SaveSettingsRequest) action() string        { return "saveSettings" }
func (AddManagedDomainRequest) action() string    { return "addManagedDomain" }
func (RemoveManagedDomainRequest) action() string { return "removeManagedDomain" }
func (ClearHistoryRequest) action() string        { return "clearHistory" }
func (ResetSettingsRequest) action() string       { return "resetSettings" }
func (ClassifyLinkRequest) action() string        { return "classifyLink" }

// DecodeRequest 按 action 字段解码成具体的请求类型
func DecodeRequest(data []byte) (Request, error) {
	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var req Request
	switch envelope.Action {
	case "downloadTorrent":
		var r DownloadTorrentRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Action, err)
		}
		req = r
	case "getSettings":
		req = GetSettingsRequest{}
	case "saveSettings":
		var r SaveSettingsRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Action, err)
		}
		req = r
	case "addManagedDomain":
		var r AddManagedDomainRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Action, err)
		}
		req = r
	case "removeManagedDomain":
		var r RemoveManagedDomainRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Action, err)
		}
		req = r
	case "clearHistory":
		req = ClearHistoryRequest{}
	case "resetSettings":
		req = ResetSettingsRequest{}
	case "classifyLink":
		var r ClassifyLinkRequest
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Action, err)
		}
		req = r
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Action)
	}
	return req, nil
}
