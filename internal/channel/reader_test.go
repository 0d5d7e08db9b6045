package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/retinaseo/internal/metrics"
)

// mockSSRFGuard はテスト用に通常のHTTPクライアントを返す。
type mockSSRFGuard struct {
	validateErr error
}

func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockSSRFGuard) ValidateURL(_ string) error {
	return m.validateErr
}

type failureCollector struct {
	metrics.Nop
	reasons []string
}

func (c *failureCollector) RecordChannelFetchFailure(reason string) {
	c.reasons = append(c.reasons, reason)
}

const channelFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>Retina Channel</title>
 <entry>
  <id>yt:video:vid2</id>
  <yt:videoId>vid2</yt:videoId>
  <title>Second upload</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid2"/>
  <published>2026-02-02T10:00:00+00:00</published>
  <media:group>
   <media:title>Second upload</media:title>
   <media:thumbnail url="https://i.ytimg.com/vi/vid2/hqdefault.jpg" width="480" height="360"/>
  </media:group>
 </entry>
 <entry>
  <id>yt:video:vid1</id>
  <yt:videoId>vid1</yt:videoId>
  <title>First upload</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid1"/>
  <published>2026-01-01T10:00:00+00:00</published>
 </entry>
</feed>`

func newChannelServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/@retina", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><link rel="alternate" type="application/rss+xml" href="/feeds/videos.xml?channel_id=UCretina"></head><body></body></html>`))
	})
	mux.HandleFunc("/@nofeed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head></head><body></body></html>`))
	})
	mux.HandleFunc("/feeds/videos.xml", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel_id") != "UCretina" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(channelFeed))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestReader_RecentVideos_FromHandle(t *testing.T) {
	srv := newChannelServer(t)
	r := NewReader(&mockSSRFGuard{}, nil, nil, 5*time.Second)

	videos, err := r.RecentVideos(context.Background(), srv.URL+"/@retina", 10)
	if err != nil {
		t.Fatalf("RecentVideos() error = %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("len(videos) = %d, want 2", len(videos))
	}
	v := videos[0]
	if v.ID != "vid2" || v.Title != "Second upload" || v.URL != "https://www.youtube.com/watch?v=vid2" {
		t.Errorf("videos[0] = %+v", v)
	}
	if v.ThumbnailURL != "https://i.ytimg.com/vi/vid2/hqdefault.jpg" {
		t.Errorf("thumbnail = %q", v.ThumbnailURL)
	}
	if v.PublishedAt.Year() != 2026 {
		t.Errorf("published = %v", v.PublishedAt)
	}
}

func TestReader_RecentVideos_ChannelIDUsesFeedBase(t *testing.T) {
	srv := newChannelServer(t)
	r := NewReader(&mockSSRFGuard{}, nil, nil, 5*time.Second)
	r.feedBase = srv.URL + "/feeds/videos.xml"

	videos, err := r.RecentVideos(context.Background(), "https://www.youtube.com/channel/UCretina", 1)
	if err != nil {
		t.Fatalf("RecentVideos() error = %v", err)
	}
	if len(videos) != 1 {
		t.Errorf("len(videos) = %d, want 1 (limit)", len(videos))
	}
}

func TestReader_RecentVideos_NoFeedLink(t *testing.T) {
	srv := newChannelServer(t)
	collector := &failureCollector{}
	r := NewReader(&mockSSRFGuard{}, collector, nil, 5*time.Second)

	_, err := r.RecentVideos(context.Background(), srv.URL+"/@nofeed", 10)
	if !errors.Is(err, ErrFeedNotFound) {
		t.Errorf("RecentVideos() error = %v, want ErrFeedNotFound", err)
	}
	if len(collector.reasons) != 1 || collector.reasons[0] != "resolve" {
		t.Errorf("reasons = %v", collector.reasons)
	}
}

func TestReader_RecentVideos_BlockedBySSRFGuard(t *testing.T) {
	collector := &failureCollector{}
	r := NewReader(&mockSSRFGuard{validateErr: errors.New("blocked")}, collector, nil, time.Second)

	if _, err := r.RecentVideos(context.Background(), "http://127.0.0.1/@x", 10); err == nil {
		t.Fatal("expected error when the SSRF guard rejects the URL")
	}
}

func TestReader_RecentVideos_FeedError(t *testing.T) {
	srv := newChannelServer(t)
	collector := &failureCollector{}
	r := NewReader(&mockSSRFGuard{}, collector, nil, 5*time.Second)
	r.feedBase = srv.URL + "/feeds/videos.xml"

	_, err := r.RecentVideos(context.Background(), "https://www.youtube.com/channel/UCmissing", 10)
	if err == nil {
		t.Fatal("expected error for 404 feed")
	}
	if collector.reasons[0] != "fetch" {
		t.Errorf("reasons = %v", collector.reasons)
	}
}
