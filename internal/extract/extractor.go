package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"applyforge/internal/config"
	"applyforge/internal/errors"
	"applyforge/internal/types"
)

// Document is an in-memory source document handed to the extractor.
// Size falls back to len(Data) when zero.
type Document struct {
	Data        []byte
	ContentType string
	Filename    string
	Size        int64
}

// Extractor decodes PDF documents into normalized text. It holds no
// state beyond its limits and keeps nothing after ExtractText returns.
type Extractor struct {
	config config.ExtractorConfig
	logger *errors.Logger
}

// NewExtractor creates a document text extractor with the given limits
func NewExtractor(cfg config.ExtractorConfig, logger *errors.Logger) *Extractor {
	return &Extractor{
		config: cfg,
		logger: logger,
	}
}

// ExtractText validates doc and decodes it to text. Media type and size
// are checked before any parsing work; decoding is all-or-nothing, so a
// failure on any page returns an error and no partial text.
//
// Within a page, runs of whitespace collapse to a single space and
// whitespace-only runs are dropped. Pages are joined with a single
// newline in ascending page order and the result is trimmed.
func (e *Extractor) ExtractText(ctx context.Context, doc Document) (types.TextExtraction, error) {
	size := doc.Size
	if size == 0 {
		size = int64(len(doc.Data))
	}

	if !isPDF(doc) {
		return types.TextExtraction{}, errors.NewDocumentError(
			errors.ErrCodeInvalidDocument,
			fmt.Sprintf("Unsupported document type %q: only PDF documents are accepted", doc.ContentType),
			nil,
		).WithContext("filename", doc.Filename)
	}

	if size > e.config.MaxDocumentSize {
		return types.TextExtraction{}, errors.NewDocumentError(
			errors.ErrCodeDocumentTooLarge,
			fmt.Sprintf("Document size %d bytes exceeds the %d byte limit", size, e.config.MaxDocumentSize),
			nil,
		).WithContext("filename", doc.Filename)
	}

	if err := e.validatePDF(doc.Data); err != nil {
		return types.TextExtraction{}, errors.NewDocumentError(
			errors.ErrCodeExtractionFailed,
			"PDF structure validation failed",
			err,
		).WithContext("filename", doc.Filename)
	}

	text, pageCount, err := decodeText(ctx, doc.Data)
	if err != nil {
		return types.TextExtraction{}, errors.NewDocumentError(
			errors.ErrCodeExtractionFailed,
			"Failed to extract text from PDF",
			err,
		).WithContext("filename", doc.Filename)
	}

	e.logger.Debug("Document text extracted",
		"filename", doc.Filename,
		"pages", pageCount,
		"document_bytes", size,
		"text_length", len(text))

	return types.TextExtraction{
		Text:      text,
		PageCount: pageCount,
		Bytes:     size,
	}, nil
}

// isPDF reports whether doc declares a PDF media type, by content type
// or by filename suffix.
func isPDF(doc Document) bool {
	ct := strings.ToLower(strings.TrimSpace(doc.ContentType))
	if ct == "application/pdf" || strings.HasPrefix(ct, "application/pdf;") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(doc.Filename), ".pdf")
}

// validatePDF runs pdfcpu structural validation before decoding.
// Relaxed mode tolerates the minor xref and dictionary defects common
// in generated resumes; strict mode is available via configuration.
func (e *Extractor) validatePDF(data []byte) error {
	conf := model.NewDefaultConfiguration()
	if e.config.ValidationMode == "strict" {
		conf.ValidationMode = model.ValidationStrict
	} else {
		conf.ValidationMode = model.ValidationRelaxed
	}
	return api.Validate(bytes.NewReader(data), conf)
}

// decodeText walks every page in ascending order and normalizes the
// decoded text. The underlying reader panics on some malformed inputs,
// so the decode is fenced with a recover that surfaces the panic as an
// error.
func decodeText(ctx context.Context, data []byte) (text string, pageCount int, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, pageCount = "", 0
			err = fmt.Errorf("pdf decode panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	pageCount = reader.NumPage()
	pages := make([]string, 0, pageCount)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= pageCount; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		// Font maps are cached across pages so character decoding does
		// not re-parse a font already seen on an earlier page.
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}

		raw, pageErr := page.GetPlainText(fonts)
		if pageErr != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, pageErr)
		}
		pages = append(pages, strings.Join(strings.Fields(raw), " "))
	}

	return strings.TrimSpace(strings.Join(pages, "\n")), pageCount, nil
}
