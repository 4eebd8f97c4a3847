// Package asset resolves raster asset references (inline data URLs, remote
// URLs, local files) into decoded rasters.
package asset

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/layerstudio/internal/raster"
	"github.com/MeKo-Tech/layerstudio/internal/types"
	"github.com/dustin/go-humanize"
)

// DefaultMaxBytes caps a single decoded asset (matches the upload limit).
const DefaultMaxBytes = 50 * 1024 * 1024

var (
	// ErrNoSource is returned for assets without any usable reference.
	ErrNoSource = errors.New("asset has no source reference")
	// ErrTooLarge is returned when an asset exceeds the configured size limit.
	ErrTooLarge = errors.New("asset exceeds size limit")
	// ErrLocalFile is returned for file references when the loader only accepts remote assets.
	ErrLocalFile = errors.New("local file references are not allowed")
)

// LoaderConfig configures asset resolution.
type LoaderConfig struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	// MaxBytes limits the encoded size of a single asset (default: 50 MiB)
	MaxBytes int64
	// Timeout bounds a single remote fetch (default: 60s)
	Timeout time.Duration
	// AllowFiles enables file:// URLs and plain paths. Leave it off for
	// references handed back by a remote provider.
	AllowFiles bool
}

// Loader decodes asset references into rasters.
type Loader struct {
	client   *http.Client
	logger   *slog.Logger
	maxBytes int64
	timeout  time.Duration
	files    bool
}

// NewLoader creates a loader with defaults applied.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Loader{
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
		maxBytes: cfg.MaxBytes,
		timeout:  cfg.Timeout,
		files:    cfg.AllowFiles,
	}
}

// LoadAsset resolves an asset, preferring its inline data over its URL.
func (l *Loader) LoadAsset(ctx context.Context, a types.Asset) (*image.NRGBA, error) {
	src := a.Source()
	if src == "" {
		return nil, ErrNoSource
	}
	return l.Load(ctx, src)
}

// Load resolves a reference: data: URLs, http(s) URLs and, when files are
// allowed, file:// URLs or plain paths.
func (l *Loader) Load(ctx context.Context, ref string) (*image.NRGBA, error) {
	data, err := l.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	img, format, err := raster.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode asset %s: %w", shorten(ref), err)
	}

	l.log().Debug("Decoded asset",
		"ref", shorten(ref),
		"format", format,
		"size", humanize.IBytes(uint64(len(data))),
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
	)
	return img, nil
}

// Fetch returns the raw encoded bytes behind a reference.
func (l *Loader) Fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case ref == "":
		return nil, ErrNoSource
	case strings.HasPrefix(ref, "data:"):
		data, _, err := DecodeDataURL(ref)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > l.maxBytes {
			return nil, fmt.Errorf("%w: %s > %s", ErrTooLarge, humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(l.maxBytes)))
		}
		return data, nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.fetchHTTP(ctx, ref)
	case !l.files:
		return nil, fmt.Errorf("%w: %s", ErrLocalFile, shorten(ref))
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("invalid file url %q: %w", ref, err)
		}
		return l.readFile(u.Path)
	default:
		return l.readFile(ref)
	}
}

func (l *Loader) fetchHTTP(ctx context.Context, ref string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build asset request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset %s: %w", shorten(ref), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch asset %s: status %d", shorten(ref), resp.StatusCode)
	}

	return l.readLimited(resp.Body)
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset %s: %w", path, err)
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: more than %s", ErrTooLarge, humanize.IBytes(uint64(l.maxBytes)))
	}
	return data, nil
}

func (l *Loader) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}

// DecodeDataURL splits a data: URL into its payload and media type.
// Both base64 and percent-encoded payloads are accepted.
func DecodeDataURL(ref string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return nil, "", fmt.Errorf("not a data url: %s", shorten(ref))
	}

	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data url: missing payload separator")
	}

	params := strings.Split(header, ";")
	contentType := params[0]
	if contentType == "" {
		contentType = "text/plain"
	}

	isBase64 := false
	for _, p := range params[1:] {
		if p == "base64" {
			isBase64 = true
		}
	}

	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("malformed data url payload: %w", err)
		}
		return []byte(decoded), contentType, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some producers strip the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("malformed base64 data url: %w", err)
		}
	}
	return data, contentType, nil
}

// EncodeDataURL renders img as a base64 PNG data URL.
func EncodeDataURL(img image.Image) (string, error) {
	data, err := raster.PNGBytes(img)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

// shorten trims long references (mostly data URLs) for log output.
func shorten(ref string) string {
	const limit = 60
	if len(ref) <= limit {
		return ref
	}
	return ref[:limit] + "..."
}
