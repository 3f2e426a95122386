package maintenance

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/righttechsoft/tgfeed/internal/logging"
	"github.com/righttechsoft/tgfeed/internal/metrics"
	"github.com/righttechsoft/tgfeed/internal/models"
)

// telegraphURLPattern finds telegra.ph links in a message's raw text and
// entities JSON (the entities blob is opaque to the store, so scanning its
// raw bytes finds embedded URL entity values without parsing the shape).
var telegraphURLPattern = regexp.MustCompile(`https?://telegra\.ph/\S+`)

// PageFetcher retrieves a URL's body, the network boundary the telegraph
// archiver calls through (kept as an interface so tests substitute a fake).
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPPageFetcher is the default PageFetcher, a plain net/http client.
type HTTPPageFetcher struct {
	Client *http.Client
}

func (f HTTPPageFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

// RunTelegraphArchival downloads and rewrites every not-yet-archived
// telegra.ph page referenced by a channel's messages (spec.md §4.7
// "Telegraph archival").
func (m *Manager) RunTelegraphArchival(ctx context.Context) error {
	channels, err := m.store.Channels(ctx)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	batch := m.cfg.TelegraphBatchSize
	if batch <= 0 {
		batch = 20
	}

	for _, channel := range channels {
		candidates, err := m.store.TelegraphCandidates(ctx, channel.ID, batch)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Int64("channel_id", channel.ID).Msg("list telegraph candidates failed")
			continue
		}
		for _, msg := range candidates {
			if err := m.archiveTelegraphMessage(ctx, channel.ID, msg); err != nil {
				logging.Ctx(ctx).Warn().Int64("channel_id", channel.ID).Int64("message_id", msg.ID).Err(err).Msg("telegraph archival failed")
			}
		}
	}
	return nil
}

func (m *Manager) archiveTelegraphMessage(ctx context.Context, channelID int64, msg *models.Message) error {
	urls := uniqueStrings(telegraphURLPattern.FindAllString(msg.Text+" "+msg.Entities, -1))
	if len(urls) == 0 {
		return nil
	}

	dir := filepath.Join(m.telegraphRoot, fmt.Sprint(channelID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create telegraph dir: %w", err)
	}

	for i, url := range urls {
		destPath := filepath.Join(dir, fmt.Sprintf("%d_%d.html", msg.ID, i))
		if err := m.archivePage(ctx, url, dir, destPath); err != nil {
			metrics.TelegraphPagesArchived.WithLabelValues("failed").Inc()
			return fmt.Errorf("archive %s: %w", url, err)
		}
		metrics.TelegraphPagesArchived.WithLabelValues("success").Inc()
	}

	return m.store.SetHTMLDownloaded(ctx, channelID, msg.ID)
}

// archivePage downloads one telegra.ph page, embeds images as data URIs,
// content-addresses stylesheets into assetDir, strips scripts, and writes
// the rewritten HTML to destPath.
func (m *Manager) archivePage(ctx context.Context, url, assetDir, destPath string) error {
	body, err := m.pages.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch page: %w", err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}

	doc.Find("script").Remove()

	var imgErr error
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if imgErr != nil {
			return
		}
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		dataURI, err := m.fetchAsDataURI(ctx, resolveURL(url, src))
		if err != nil {
			imgErr = fmt.Errorf("embed image %s: %w", src, err)
			return
		}
		s.SetAttr("src", dataURI)
	})
	if imgErr != nil {
		return imgErr
	}

	var cssErr error
	doc.Find("link[rel='stylesheet']").Each(func(_ int, s *goquery.Selection) {
		if cssErr != nil {
			return
		}
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		localPath, err := m.fetchCSSContentAddressed(ctx, resolveURL(url, href), assetDir)
		if err != nil {
			cssErr = fmt.Errorf("localize stylesheet %s: %w", href, err)
			return
		}
		s.SetAttr("href", localPath)
	})
	if cssErr != nil {
		return cssErr
	}

	html, err := doc.Html()
	if err != nil {
		return fmt.Errorf("serialize page: %w", err)
	}
	return os.WriteFile(destPath, []byte(html), 0o644)
}

func (m *Manager) fetchAsDataURI(ctx context.Context, url string) (string, error) {
	body, err := m.pages.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return "data:" + sniffMediaType(url) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// fetchCSSContentAddressed downloads a stylesheet and names it by the
// content hash, so two pages referencing the same stylesheet share one file
// on disk (spec.md §4.7 "content hash -> filename so duplicates are shared").
func (m *Manager) fetchCSSContentAddressed(ctx context.Context, url, assetDir string) (string, error) {
	body, err := m.pages.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	filename := fmt.Sprintf("%x.css", sum[:8])
	path := filepath.Join(assetDir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", err
		}
	}
	return filename, nil
}

func sniffMediaType(url string) string {
	switch {
	case strings.HasSuffix(url, ".png"):
		return "image/png"
	case strings.HasSuffix(url, ".gif"):
		return "image/gif"
	case strings.HasSuffix(url, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return "https://telegra.ph" + ref
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
