package packager

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/metrics"
	"github.com/JakeFAU/serial-archiver/internal/novel"
)

var knownImageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true, ".bmp": true,
}

// ImageRef ties a source URL to the file stored for it in one packaging run.
type ImageRef struct {
	SourceURL    string
	FileName     string
	InternalPath string
	Failed       bool
}

// AddImageFunc stores an image given as a data URL under name and returns
// the path documents should reference.
type AddImageFunc func(source, name string) (string, error)

// ImageSet deduplicates embedded images across every unit of one packaging
// run. Each distinct source is fetched at most once, including failures.
type ImageSet struct {
	fetcher novel.ImageFetcher
	logger  *zap.Logger

	mu    sync.Mutex
	refs  map[string]*ImageRef
	order []*ImageRef
}

// NewImageSet returns an empty set backed by fetcher.
func NewImageSet(fetcher novel.ImageFetcher, logger *zap.Logger) *ImageSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageSet{fetcher: fetcher, logger: logger, refs: make(map[string]*ImageRef)}
}

// Resolve returns the stored path for src, fetching and adding it on first
// sight. The second return is false when the image is unavailable.
func (s *ImageSet) Resolve(ctx context.Context, src string, add AddImageFunc) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.refs[src]; ok {
		if !ref.Failed {
			metrics.ObserveImage("reused")
		}
		return ref.InternalPath, !ref.Failed
	}

	ref := &ImageRef{SourceURL: src}
	s.refs[src] = ref
	data, mediaType, err := s.load(ctx, src)
	if err == nil {
		ref.FileName = fmt.Sprintf("image_%04d%s", len(s.order)+1, imageExtension(src, data))
		ref.InternalPath, err = add(dataurl.New(data, mediaType).String(), ref.FileName)
	}
	if err != nil {
		ref.Failed = true
		metrics.ObserveImage("failed")
		s.logger.Warn("image unavailable; dropping reference", zap.Error(&novel.AssetError{URL: shortURL(src), Err: err}))
		return "", false
	}
	s.order = append(s.order, ref)
	metrics.ObserveImage("stored")
	return ref.InternalPath, true
}

// Refs returns the successfully stored images in the order they were added.
func (s *ImageSet) Refs() []ImageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ImageRef, 0, len(s.order))
	for _, r := range s.order {
		out = append(out, *r)
	}
	return out
}

func (s *ImageSet) load(ctx context.Context, src string) ([]byte, string, error) {
	if strings.HasPrefix(src, "data:") {
		du, err := dataurl.DecodeString(src)
		if err != nil {
			return nil, "", fmt.Errorf("decode data url: %w", err)
		}
		return du.Data, imageMediaType(du.MediaType.ContentType(), du.Data), nil
	}
	if s.fetcher == nil {
		return nil, "", fmt.Errorf("no image fetcher configured")
	}
	data, contentType, err := s.fetcher.FetchImage(ctx, src)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image body")
	}
	return data, imageMediaType(contentType, data), nil
}

// imageMediaType trusts an image/* content type and sniffs otherwise.
func imageMediaType(reported string, data []byte) string {
	mt, _, _ := strings.Cut(reported, ";")
	if mt = strings.ToLower(strings.TrimSpace(mt)); strings.HasPrefix(mt, "image/") {
		return mt
	}
	mt, _, _ = strings.Cut(mimetype.Detect(data).String(), ";")
	return mt
}

// imageExtension keeps the source URL's extension when it is a known image
// type and falls back to the sniffed one.
func imageExtension(src string, data []byte) string {
	if !strings.HasPrefix(src, "data:") {
		if u, err := url.Parse(src); err == nil {
			if ext := strings.ToLower(path.Ext(u.Path)); knownImageExt[ext] {
				return ext
			}
		}
	}
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".bin"
}

func shortURL(src string) string {
	if strings.HasPrefix(src, "data:") && len(src) > 40 {
		return src[:40] + "..."
	}
	return src
}
