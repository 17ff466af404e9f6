package packager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

const maxNameBytes = 120

// Packager writes finished documents to disk.
type Packager struct {
	images novel.ImageFetcher
	logger *zap.Logger
}

// New returns a Packager that downloads EPUB images through images. A nil
// fetcher keeps only inline data: images.
func New(images novel.ImageFetcher, logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{images: images, logger: logger}
}

// Package renders units in format and writes the result into dir. It
// returns the path of the written file.
func (p *Packager) Package(ctx context.Context, format novel.Format, work novel.Work, units []novel.AcquiredUnit, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(work, format))

	switch format {
	case novel.FormatText:
		if err := writeFile(path, RenderText(work, units)); err != nil {
			return "", err
		}
	case novel.FormatHTML:
		doc, err := RenderHTML(work, units)
		if err != nil {
			return "", err
		}
		if err := writeFile(path, doc); err != nil {
			return "", err
		}
	case novel.FormatEPUB:
		images := NewImageSet(p.images, p.logger)
		if err := WriteEPUB(ctx, work, units, images, path); err != nil {
			return "", err
		}
		p.logger.Debug("epub images embedded",
			zap.String("work", work.WorkRef.String()),
			zap.Int("images", len(images.Refs())),
		)
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
	return path, nil
}

// FileName derives a filesystem-safe file name from the work title.
func FileName(work novel.Work, format novel.Format) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.TrimSpace(work.Title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.TrimSuffix(b.String(), "-")
	if name == "" {
		name = string(work.Platform) + "-" + work.WorkID
	}
	if len(name) > maxNameBytes {
		cut := maxNameBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimSuffix(name[:cut], "-")
	}
	return name + format.Extension()
}

func writeFile(path, contents string) error {
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
