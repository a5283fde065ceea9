package notelayout

import (
	"io"
	"math"
	"strings"
	"unicode"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/pkg/errors"
)

// Fragment is a single extracted text run with its page-space bounding box.
type Fragment struct {
	Text string
	Box  Rect
}

// SourcePage holds one page's dimensions and its text fragments in
// extraction order.
type SourcePage struct {
	Number    int // 1-based
	Width     float64
	Height    float64
	Fragments []Fragment
}

// PageSource supplies pages of raw text fragments in document order.
type PageSource interface {
	Pages() ([]SourcePage, error)
}

// StaticSource is a PageSource over pre-built pages.
type StaticSource []SourcePage

func (s StaticSource) Pages() ([]SourcePage, error) {
	return []SourcePage(s), nil
}

// ChunksFromPages flattens extracted pages into text line chunks.
// Whitespace-only fragments are dropped.
func ChunksFromPages(pages []SourcePage) []*Chunk {
	var chunks []*Chunk
	for _, page := range pages {
		for _, frag := range page.Fragments {
			if strings.TrimSpace(frag.Text) == "" {
				continue
			}
			chunks = append(chunks, NewChunk(page.Number, frag.Text, frag.Box))
		}
	}
	return chunks
}

// ExtractConfig controls how extracted characters are grouped into line
// fragments.
type ExtractConfig struct {
	// LineTolerance is the maximum baseline distance, in points, for two
	// words to be treated as part of the same line.
	LineTolerance float64 `yaml:"line_tolerance"`
}

// DefaultExtractConfig returns grouping thresholds suited to typical
// engineering sheet text.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		LineTolerance: 3.0,
	}
}

// Extractor reads text line fragments from PDF documents using pdfium.
type Extractor struct {
	instance pdfium.Pdfium
	cfg      ExtractConfig

	// Progress, when set, is called after each page is extracted.
	Progress func(page, total int)
}

// NewExtractor creates an extractor with default configuration.
func NewExtractor(instance pdfium.Pdfium) *Extractor {
	return &Extractor{
		instance: instance,
		cfg:      DefaultExtractConfig(),
	}
}

// NewExtractorWithConfig creates an extractor with custom configuration.
func NewExtractorWithConfig(instance pdfium.Pdfium, cfg ExtractConfig) *Extractor {
	return &Extractor{
		instance: instance,
		cfg:      cfg,
	}
}

// DocumentInfo contains basic information about a PDF document.
type DocumentInfo struct {
	PageCount int
}

// DocumentInfo returns basic information about a PDF without extracting it.
func (e *Extractor) DocumentInfo(path string) (*DocumentInfo, error) {
	doc, err := e.instance.OpenDocument(&requests.OpenDocument{
		FilePath: &path,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}
	defer e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	pageCount, err := e.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get page count")
	}

	return &DocumentInfo{
		PageCount: pageCount.PageCount,
	}, nil
}

// PagesFromFile extracts every page of the PDF at path.
func (e *Extractor) PagesFromFile(path string) ([]SourcePage, error) {
	doc, err := e.instance.OpenDocument(&requests.OpenDocument{
		FilePath: &path,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}
	defer e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	return e.pagesFromDocument(doc.Document)
}

// PagesFromBytes extracts every page of an in-memory PDF.
func (e *Extractor) PagesFromBytes(pdf []byte) ([]SourcePage, error) {
	doc, err := e.instance.OpenDocument(&requests.OpenDocument{
		File: &pdf,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}
	defer e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	return e.pagesFromDocument(doc.Document)
}

// PagesFromReader extracts every page of a PDF read from an io.ReadSeeker.
func (e *Extractor) PagesFromReader(reader io.ReadSeeker) ([]SourcePage, error) {
	doc, err := e.instance.OpenDocument(&requests.OpenDocument{
		FileReader: reader,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}
	defer e.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	return e.pagesFromDocument(doc.Document)
}

// FileSource adapts an Extractor and a file path to the PageSource interface.
type FileSource struct {
	Extractor *Extractor
	Path      string
}

func (f FileSource) Pages() ([]SourcePage, error) {
	return f.Extractor.PagesFromFile(f.Path)
}

func (e *Extractor) pagesFromDocument(docRef references.FPDF_DOCUMENT) ([]SourcePage, error) {
	pageCount, err := e.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: docRef,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get page count")
	}

	pages := make([]SourcePage, 0, pageCount.PageCount)
	for i := 0; i < pageCount.PageCount; i++ {
		page, err := e.extractPage(docRef, i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to extract page %d", i+1)
		}
		pages = append(pages, *page)

		if e.Progress != nil {
			e.Progress(i+1, pageCount.PageCount)
		}
	}

	return pages, nil
}

func (e *Extractor) extractPage(docRef references.FPDF_DOCUMENT, pageIndex int) (*SourcePage, error) {
	pageResp, err := e.instance.FPDF_LoadPage(&requests.FPDF_LoadPage{
		Document: docRef,
		Index:    pageIndex,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load page")
	}
	defer e.instance.FPDF_ClosePage(&requests.FPDF_ClosePage{
		Page: pageResp.Page,
	})

	return extractSourcePage(e.instance, pageResp.Page, pageIndex+1, e.cfg)
}

// extractSourcePage extracts the text line fragments of a single PDF page.
func extractSourcePage(instance pdfium.Pdfium, page references.FPDF_PAGE, pageNumber int, cfg ExtractConfig) (*SourcePage, error) {
	pageWidth, err := instance.FPDF_GetPageWidthF(&requests.FPDF_GetPageWidthF{
		Page: requests.Page{
			ByReference: &page,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get page width")
	}

	pageHeight, err := instance.FPDF_GetPageHeightF(&requests.FPDF_GetPageHeightF{
		Page: requests.Page{
			ByReference: &page,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get page height")
	}

	textPage, err := instance.FPDFText_LoadPage(&requests.FPDFText_LoadPage{
		Page: requests.Page{
			ByReference: &page,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load text page")
	}
	defer instance.FPDFText_ClosePage(&requests.FPDFText_ClosePage{
		TextPage: textPage.TextPage,
	})

	charCount, err := instance.FPDFText_CountChars(&requests.FPDFText_CountChars{
		TextPage: textPage.TextPage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to count characters")
	}

	result := &SourcePage{
		Number: pageNumber,
		Width:  float64(pageWidth.PageWidth),
		Height: float64(pageHeight.PageHeight),
	}
	if charCount.Count == 0 {
		return result, nil
	}

	chars, err := extractChars(instance, textPage.TextPage, charCount.Count, result.Height)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract characters")
	}

	words := groupCharsIntoWords(chars)
	result.Fragments = groupWordsIntoFragments(words, cfg.LineTolerance)

	return result, nil
}

// textChar is one extracted character in top-left origin page space.
type textChar struct {
	r   rune
	box Rect
}

// extractChars extracts all characters with their bounding boxes. PDF
// coordinates grow upward from the bottom-left corner; boxes are flipped
// here so Y0 is the top edge, matching the rest of the engine.
func extractChars(instance pdfium.Pdfium, textPage references.FPDF_TEXTPAGE, count int, pageHeight float64) ([]textChar, error) {
	chars := make([]textChar, 0, count)

	for i := 0; i < count; i++ {
		unicodeRes, err := instance.FPDFText_GetUnicode(&requests.FPDFText_GetUnicode{
			TextPage: textPage,
			Index:    i,
		})
		if err != nil || unicodeRes.Unicode == 0 {
			continue
		}

		charBox, err := instance.FPDFText_GetCharBox(&requests.FPDFText_GetCharBox{
			TextPage: textPage,
			Index:    i,
		})
		if err != nil {
			continue
		}

		chars = append(chars, textChar{
			r: rune(unicodeRes.Unicode),
			box: Rect{
				X0: charBox.Left,
				Y0: pageHeight - charBox.Top,
				X1: charBox.Right,
				Y1: pageHeight - charBox.Bottom,
			},
		})
	}

	return chars, nil
}

// ligatureMap maps ligature unicode codepoints to their expanded forms.
var ligatureMap = map[rune]string{
	0xFB00: "ff",
	0xFB01: "fi",
	0xFB02: "fl",
	0xFB03: "ffi",
	0xFB04: "ffl",
	0xFB05: "ft",
	0xFB06: "st",
}

// textWord is a whitespace-delimited run of characters.
type textWord struct {
	runes []rune
	box   Rect
}

func (w textWord) text() string {
	return string(w.runes)
}

// groupCharsIntoWords splits characters into words on whitespace only.
// Splitting on anything finer would distort the reconstructed line text.
// Ligature codepoints are expanded in place.
func groupCharsIntoWords(chars []textChar) []textWord {
	var words []textWord
	var current []textChar

	flush := func() {
		if len(current) == 0 {
			return
		}
		word := textWord{box: current[0].box}
		for _, c := range current {
			if expansion, ok := ligatureMap[c.r]; ok {
				word.runes = append(word.runes, []rune(expansion)...)
			} else {
				word.runes = append(word.runes, c.r)
			}
			word.box.X0 = math.Min(word.box.X0, c.box.X0)
			word.box.Y0 = math.Min(word.box.Y0, c.box.Y0)
			word.box.X1 = math.Max(word.box.X1, c.box.X1)
			word.box.Y1 = math.Max(word.box.Y1, c.box.Y1)
		}
		words = append(words, word)
		current = nil
	}

	for _, c := range chars {
		if unicode.IsSpace(c.r) {
			flush()
			continue
		}
		current = append(current, c)
	}
	flush()

	return words
}

// groupWordsIntoFragments groups words into line fragments. The bottom of a
// word's box is its baseline; a word joins the current line when its
// baseline sits within tolerance points of the line's.
func groupWordsIntoFragments(words []textWord, tolerance float64) []Fragment {
	if len(words) == 0 {
		return nil
	}
	if tolerance <= 0 {
		tolerance = DefaultExtractConfig().LineTolerance
	}

	var fragments []Fragment
	var texts []string
	var box Rect
	var baseline float64

	flush := func() {
		if len(texts) == 0 {
			return
		}
		fragments = append(fragments, Fragment{
			Text: strings.Join(texts, " "),
			Box:  box,
		})
		texts = nil
	}

	for _, word := range words {
		wordBaseline := word.box.Y1
		if len(texts) > 0 && math.Abs(wordBaseline-baseline) < tolerance {
			texts = append(texts, word.text())
			box.X0 = math.Min(box.X0, word.box.X0)
			box.Y0 = math.Min(box.Y0, word.box.Y0)
			box.X1 = math.Max(box.X1, word.box.X1)
			box.Y1 = math.Max(box.Y1, word.box.Y1)
			continue
		}
		flush()
		texts = []string{word.text()}
		box = word.box
		baseline = wordBaseline
	}
	flush()

	return fragments
}
