// Package channel は連携済みYouTubeチャンネルの最新動画を取得する。
package channel

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// youtubeHosts はチャンネルURLとして受け付けるホスト。
var youtubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
}

// defaultFeedBase はYouTubeのチャンネルフィードのURL。
const defaultFeedBase = "https://www.youtube.com/feeds/videos.xml"

// ValidateChannelURL はURLがYouTubeのチャンネルページを指しているかを検証する。
// 受け付ける形式: /channel/UC..., /@handle, /c/name, /user/name
func ValidateChannelURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL must start with https://")
	}
	if !youtubeHosts[strings.ToLower(u.Hostname())] {
		return fmt.Errorf("not a YouTube URL: %s", u.Hostname())
	}

	path := strings.Trim(u.Path, "/")
	switch {
	case strings.HasPrefix(path, "@") && len(path) > 1:
		return nil
	case strings.HasPrefix(path, "channel/") && len(path) > len("channel/"):
		return nil
	case strings.HasPrefix(path, "c/") && len(path) > len("c/"):
		return nil
	case strings.HasPrefix(path, "user/") && len(path) > len("user/"):
		return nil
	default:
		return fmt.Errorf("not a YouTube channel URL")
	}
}

// channelIDFromURL は/channel/UC...形式のURLからチャンネルIDを取り出す。
func channelIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "channel" && strings.HasPrefix(parts[1], "UC") {
		return parts[1]
	}
	return ""
}

// feedURLForChannelID はチャンネルIDのフィードURLを返す。
func feedURLForChannelID(base, channelID string) string {
	return base + "?channel_id=" + url.QueryEscape(channelID)
}

// parseFeedLinkFromHTML はチャンネルページのheadからRSS/Atomのalternateリンクを探す。
// 相対URLはbaseURLを基準に解決する。見つからない場合は空文字を返す。
func parseFeedLinkFromHTML(body []byte, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	inHead := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				return ""
			}
			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}
			if linkType != "application/rss+xml" && linkType != "application/atom+xml" {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			return base.ResolveReference(ref).String()

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return ""
			}
		}
	}
}
