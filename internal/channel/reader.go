package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/retinaseo/internal/metrics"
)

// maxBodySize はチャンネルページとフィードの読み取り上限。
const maxBodySize = 5 * 1024 * 1024

const userAgent = "RetinaSEO/1.0 (+channel reader)"

// ErrFeedNotFound はチャンネルページからフィードを特定できなかったことを示す。
var ErrFeedNotFound = errors.New("channel feed not found")

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Video はチャンネルにアップロードされた動画。
type Video struct {
	ID           string
	Title        string
	URL          string
	ThumbnailURL string
	PublishedAt  time.Time
}

// Reader はYouTubeのチャンネルフィードを取得する。
type Reader struct {
	ssrfGuard SSRFValidator
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	timeout   time.Duration
	feedBase  string
}

// NewReader はReaderを生成する。
func NewReader(ssrfGuard SSRFValidator, collector metrics.MetricsCollector, logger *slog.Logger, timeout time.Duration) *Reader {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		ssrfGuard: ssrfGuard,
		metrics:   collector,
		logger:    logger,
		timeout:   timeout,
		feedBase:  defaultFeedBase,
	}
}

// RecentVideos はチャンネルの最新動画を新しい順に最大limit件返す。
// /channel/UC...形式はフィードURLを直接組み立て、それ以外はチャンネルページから検出する。
func (r *Reader) RecentVideos(ctx context.Context, channelURL string, limit int) ([]Video, error) {
	feedURL, err := r.resolveFeedURL(ctx, channelURL)
	if err != nil {
		r.fail("resolve", channelURL, err)
		return nil, err
	}

	body, err := r.get(ctx, feedURL, "application/atom+xml, application/rss+xml, application/xml, text/xml, */*")
	if err != nil {
		r.fail("fetch", channelURL, err)
		return nil, err
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		r.fail("parse", channelURL, err)
		return nil, fmt.Errorf("failed to parse channel feed: %w", err)
	}

	videos := convertItems(parsed.Items)
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

func (r *Reader) resolveFeedURL(ctx context.Context, channelURL string) (string, error) {
	if id := channelIDFromURL(channelURL); id != "" {
		return feedURLForChannelID(r.feedBase, id), nil
	}

	page, err := r.get(ctx, channelURL, "text/html")
	if err != nil {
		return "", err
	}
	feedURL := parseFeedLinkFromHTML(page, channelURL)
	if feedURL == "" {
		return "", ErrFeedNotFound
	}
	return feedURL, nil
}

// get はSSRF検証付きでURLを取得する。
func (r *Reader) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	if err := r.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("blocked URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	client := r.ssrfGuard.NewSafeClient(r.timeout, maxBodySize)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (r *Reader) fail(reason, channelURL string, err error) {
	r.metrics.RecordChannelFetchFailure(reason)
	r.logger.Warn("チャンネルフィードの取得に失敗しました",
		slog.String("channel_url", channelURL),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

// convertItems はgofeedの記事を動画に変換する。
func convertItems(items []*gofeed.Item) []Video {
	videos := make([]Video, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		v := Video{
			ID:           extensionValue(item, "yt", "videoId"),
			Title:        strings.TrimSpace(item.Title),
			URL:          item.Link,
			ThumbnailURL: thumbnail(item),
		}
		if item.PublishedParsed != nil {
			v.PublishedAt = *item.PublishedParsed
		}
		if v.Title == "" || v.URL == "" {
			continue
		}
		videos = append(videos, v)
	}
	return videos
}

func extensionValue(item *gofeed.Item, ns, name string) string {
	exts, ok := item.Extensions[ns]
	if !ok {
		return ""
	}
	if vals := exts[name]; len(vals) > 0 {
		return vals[0].Value
	}
	return ""
}

// thumbnail はmedia:group/media:thumbnailのURLを返す。
func thumbnail(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	media, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, group := range media["group"] {
		for _, th := range group.Children["thumbnail"] {
			if u := th.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}
