package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quarteridge/galleryd/internal/infra/logger"
)

// Headers a gallery server can use to describe itself. When absent the
// fetcher falls back to query parameters and the URL path.
const (
	headerPages = "X-Gallery-Pages"
	headerTitle = "X-Gallery-Title"
)

var ErrNoPages = errors.New("gallery reports no pages")

// HTTPFetcher retrieves gallery pages as plain byte transfers. It does
// no HTML scraping: the page count comes from the gallery's response
// headers or from a pages query parameter on the source URL.
type HTTPFetcher struct {
	client *http.Client
	log    *logger.Logger
}

func New(log *logger.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log,
	}
}

// Resolve determines the gallery's title and page count.
func (f *HTTPFetcher) Resolve(ctx context.Context, rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parsing url: %w", err)
	}

	title := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if title == "" || title == "/" || title == "." {
		title = u.Host
	}

	// A pages query parameter on the source URL wins over a round
	// trip to the server.
	if raw := u.Query().Get("pages"); raw != "" {
		pages, err := strconv.Atoi(raw)
		if err != nil || pages < 1 {
			return "", 0, fmt.Errorf("bad pages parameter %q", raw)
		}
		return title, pages, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("gallery returned status: %d", resp.StatusCode)
	}

	if h := resp.Header.Get(headerTitle); h != "" {
		title = h
	}
	raw := resp.Header.Get(headerPages)
	if raw == "" {
		return "", 0, ErrNoPages
	}
	pages, err := strconv.Atoi(raw)
	if err != nil || pages < 1 {
		return "", 0, fmt.Errorf("bad %s header %q", headerPages, raw)
	}
	return title, pages, nil
}

// FetchPage downloads one page into destDir. Pages are addressed with
// a page query parameter on the source URL and written as
// page_NNNN.<ext>, extension taken from the response content type.
func (f *HTTPFetcher) FetchPage(ctx context.Context, rawURL string, page int, destDir string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Del("pages")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("page %d returned status: %d", page, resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	name := fmt.Sprintf("page_%04d%s", page, extensionFor(resp.Header.Get("Content-Type")))
	tmp := filepath.Join(destDir, name+".part")
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing page %d: %w", page, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(destDir, name))
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		exts, _ := mime.ExtensionsByType(mt)
		if len(exts) > 0 {
			return exts[0]
		}
		return ".bin"
	}
}
