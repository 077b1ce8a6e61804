// Package document turns uploaded PDF and plain text files into prompt text.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"aksara/backend/internal/metrics"
	"aksara/backend/internal/storage"

	"github.com/google/uuid"
	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"rsc.io/pdf"
)

const (
	KindPDF  = "pdf"
	KindText = "text"

	mediaTypePDF  = "application/pdf"
	mediaTypeText = "text/plain"

	maxExtractedTextRunes = 200_000
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("empty file")
	ErrTooLarge        = errors.New("file too large")
	ErrNoText          = errors.New("document contains no extractable text")

	filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Result struct {
	Text      string
	Kind      string
	Filename  string
	Truncated bool
}

type Options struct {
	Store         storage.ObjectStore
	StoragePrefix string
	MaxBytes      int64
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

type Extractor struct {
	store    storage.ObjectStore
	prefix   string
	maxBytes int64
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewExtractor(opts Options) *Extractor {
	return &Extractor{
		store:    opts.Store,
		prefix:   opts.StoragePrefix,
		maxBytes: opts.MaxBytes,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

func (e *Extractor) MaxBytes() int64 {
	return e.maxBytes
}

// Extract returns the plain text of an upload. When an object store is
// configured the original file is archived; archive failures are logged only.
func (e *Extractor) Extract(ctx context.Context, userID string, upload Upload) (Result, error) {
	kind, err := DetectKind(upload.ContentType, upload.Filename)
	if err != nil {
		e.metrics.ObserveDocument("unknown", "unsupported")
		return Result{}, err
	}
	if len(upload.Data) == 0 {
		e.metrics.ObserveDocument(kind, "empty")
		return Result{}, ErrEmptyFile
	}
	if e.maxBytes > 0 && int64(len(upload.Data)) > e.maxBytes {
		e.metrics.ObserveDocument(kind, "too_large")
		return Result{}, ErrTooLarge
	}

	var text string
	switch kind {
	case KindPDF:
		text, err = extractPDFText(upload.Data)
	default:
		text = string(upload.Data)
	}
	if err != nil {
		e.metrics.ObserveDocument(kind, "failed")
		return Result{}, err
	}

	text = normalizeTextPayload(text)
	if text == "" {
		e.metrics.ObserveDocument(kind, "no_text")
		return Result{}, ErrNoText
	}

	result := Result{Kind: kind, Filename: sanitizeFilename(upload.Filename)}
	result.Text = trimToRunes(text, maxExtractedTextRunes)
	result.Truncated = result.Text != text

	e.archive(ctx, userID, kind, result.Filename, upload.Data)
	e.metrics.ObserveDocument(kind, "success")
	return result, nil
}

// PurgeUser removes every archived upload of userID. It is a no-op without an
// object store.
func (e *Extractor) PurgeUser(ctx context.Context, userID string) error {
	if e.store == nil {
		return nil
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	if err := e.store.DeletePrefix(ctx, storage.UserPrefix(e.prefix, userID)); err != nil {
		return fmt.Errorf("purge %s archive: %w", e.store.Backend(), err)
	}
	return nil
}

func (e *Extractor) archive(ctx context.Context, userID, kind, filename string, data []byte) {
	if e.store == nil {
		return
	}
	mediaType := mediaTypeText
	if kind == KindPDF {
		mediaType = mediaTypePDF
	}
	objectPath := storage.ObjectPath(e.prefix, userID, uuid.NewString(), filename)
	if err := e.store.PutObject(ctx, objectPath, mediaType, data); err != nil {
		e.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Str("backend", e.store.Backend()).
			Str("path", objectPath).
			Msg("archive document failed")
	}
}

// DetectKind accepts only PDF and plain text. The declared content type wins;
// the file extension is consulted only when no useful type was sent.
func DetectKind(contentType, filename string) (string, error) {
	mediaType := ""
	if trimmed := strings.TrimSpace(contentType); trimmed != "" {
		parsed, _, err := mime.ParseMediaType(trimmed)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedType, trimmed)
		}
		mediaType = strings.ToLower(parsed)
	}

	switch mediaType {
	case mediaTypePDF:
		return KindPDF, nil
	case mediaTypeText:
		return KindText, nil
	case "", "application/octet-stream":
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}

	switch strings.ToLower(filepath.Ext(strings.TrimSpace(filename))) {
	case ".pdf":
		return KindPDF, nil
	case ".txt":
		return KindText, nil
	}
	return "", ErrUnsupportedType
}

// extractPDFText tries rsc.io/pdf first and falls back to ledongthuc/pdf,
// which copes with more real-world files. Both parsers may panic on
// malformed input.
func extractPDFText(data []byte) (string, error) {
	text, err := extractWithRSC(data)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}
	fallback, fallbackErr := extractWithLedongthuc(data)
	if fallbackErr == nil {
		return fallback, nil
	}
	if err == nil {
		return text, nil
	}
	return "", fmt.Errorf("extract pdf text: %w", errors.Join(err, fallbackErr))
}

func extractWithRSC(data []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			text, err = "", fmt.Errorf("rsc pdf parser: %v", recovered)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	runeCount := 0
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		for _, item := range page.Content().Text {
			chunk := strings.TrimSpace(item.S)
			if chunk == "" {
				continue
			}
			if textBuilder.Len() > 0 {
				textBuilder.WriteByte('\n')
				runeCount++
			}
			textBuilder.WriteString(chunk)
			runeCount += utf8.RuneCountInString(chunk)
			if runeCount >= maxExtractedTextRunes {
				return trimToRunes(textBuilder.String(), maxExtractedTextRunes), nil
			}
		}
	}

	return textBuilder.String(), nil
}

func extractWithLedongthuc(data []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			text, err = "", fmt.Errorf("ledongthuc pdf parser: %v", recovered)
		}
	}()

	reader, err := ledongthuc.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var textBuilder strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the whole document.
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if textBuilder.Len() > 0 {
			textBuilder.WriteString("\n\n")
		}
		textBuilder.WriteString(pageText)
		if textBuilder.Len() >= maxExtractedTextRunes*utf8.UTFMax {
			break
		}
	}
	return textBuilder.String(), nil
}

func normalizeTextPayload(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ToValidUTF8(normalized, "")
	normalized = strings.ReplaceAll(normalized, "\x00", "")
	return strings.TrimSpace(normalized)
}

func sanitizeFilename(raw string) string {
	base := strings.TrimSpace(filepath.Base(strings.ReplaceAll(raw, "\\", "/")))
	if base == "" || base == "." || base == "/" {
		base = "file"
	}

	extension := filepath.Ext(base)
	namePart := strings.TrimSuffix(base, extension)
	namePart = filenameSanitizer.ReplaceAllString(namePart, "_")
	namePart = strings.Trim(namePart, "._")
	if namePart == "" {
		namePart = "file"
	}

	extension = strings.ToLower(extension)
	extension = filenameSanitizer.ReplaceAllString(extension, "")
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	candidate := trimToRunes(namePart+extension, 180)
	if strings.TrimSpace(candidate) == "" {
		return "file"
	}
	return candidate
}

func trimToRunes(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(raw) <= limit {
		return raw
	}
	return string([]rune(raw)[:limit])
}
