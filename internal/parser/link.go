package parser

import (
	"net/url"
	"regexp"
	"strings"
)

// LinkKind 链接分类结果
type LinkKind string

const (
	LinkNone    LinkKind = "none"
	LinkTorrent LinkKind = "torrent"
	LinkMagnet  LinkKind = "magnet"
)

const magnetPrefix = "magnet:?xt="

var (
	// 常见的种子下载链接形式
	torrentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\.torrent(\?|$)`),
		regexp.MustCompile(`(?i)download\.php.*torrent`),
		regexp.MustCompile(`(?i)action=download`),
		regexp.MustCompile(`(?i)\?download=`),
	}

	magnetHashRegex = regexp.MustCompile(`(?i)btih:([a-zA-Z0-9]+)`)
)

// IsTorrentLink reports whether href points at a .torrent file.
func IsTorrentLink(href string) bool {
	if href == "" {
		return false
	}

	if strings.HasSuffix(strings.ToLower(href), ".torrent") {
		return true
	}

	for _, p := range torrentPatterns {
		if p.MatchString(href) {
			return true
		}
	}
	return false
}

// IsMagnetLink reports whether href is a magnet URI.
func IsMagnetLink(href string) bool {
	return strings.HasPrefix(strings.ToLower(href), magnetPrefix)
}

// ClassifyLink 磁力优先，其次种子文件
func ClassifyLink(href string) LinkKind {
	switch {
	case IsMagnetLink(href):
		return LinkMagnet
	case IsTorrentLink(href):
		return LinkTorrent
	default:
		return LinkNone
	}
}

// ExtractMagnetHash 提取 btih 的 info-hash 并转为大写
// 不校验长度 (40 位 hex 或 32 位 base32 都可以)
func ExtractMagnetHash(magnetURL string) (string, bool) {
	match := magnetHashRegex.FindStringSubmatch(magnetURL)
	if len(match) < 2 || match[1] == "" {
		return "", false
	}
	return strings.ToUpper(match[1]), true
}

// ExtractMagnetName returns the sanitized dn (display name) of a magnet URI,
// or DefaultFilename when it is missing or cannot be decoded.
func ExtractMagnetName(magnetURL string) string {
	u, err := url.Parse(magnetURL)
	if err != nil {
		return DefaultFilename
	}

	dn := u.Query().Get("dn")
	if dn == "" {
		return DefaultFilename
	}

	// Query() 已经解码过一次，这里再解一次，兼容被二次编码的 dn
	name, err := url.PathUnescape(dn)
	if err != nil {
		return DefaultFilename
	}
	return SanitizeFilename(name)
}

// FilenameFromURL 取 URL 最后一段作为文件名 (去掉查询串)
func FilenameFromURL(rawURL string) string {
	name := rawURL[strings.LastIndex(rawURL, "/")+1:]
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return DefaultFilename + TorrentExt
	}
	return name
}

// MatchesDomain 判断 host 是否属于托管域名 (任一方向的子串包含)
func MatchesDomain(host string, domains []string) bool {
	if host == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(d)
		if d == "" {
			continue
		}
		if strings.Contains(host, d) || strings.Contains(d, host) {
			return true
		}
	}
	return false
}
