// Package extract converts raw document bytes into plain text. PDF is the
// only supported format. Extraction degrades per page: a page that cannot be
// read contributes an empty string instead of failing the document.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/ledongthuc/pdf"
)

var pdfMagic = []byte("%PDF-")

// pageSeparator joins per-page text, preserving document order.
const pageSeparator = "\n"

// IsPDF reports whether raw looks like a PDF byte stream.
func IsPDF(raw []byte) bool {
	return bytes.HasPrefix(raw, pdfMagic)
}

// Text extracts the plain text of a PDF document. A well-formed but empty or
// fully unextractable document yields "" without error; a byte stream that is
// not a well-formed PDF fails with domain.ErrUnsupportedFormat.
func Text(raw []byte) (string, error) {
	if !IsPDF(raw) {
		return "", fmt.Errorf("extract: %w", domain.ErrUnsupportedFormat)
	}
	r, err := newReader(raw)
	if err != nil {
		return "", fmt.Errorf("extract: %w: %v", domain.ErrUnsupportedFormat, err)
	}
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		pages = append(pages, pageText(r, i))
	}
	return strings.Join(pages, pageSeparator), nil
}

// newReader wraps pdf.NewReader; the underlying parser panics on some
// malformed inputs, which we normalise into an error.
func newReader(raw []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r = nil
			err = fmt.Errorf("pdf parse: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
}

// pageText extracts a single page, degrading to "" on any page-level failure.
func pageText(r *pdf.Reader, i int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	p := r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	t, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return t
}
