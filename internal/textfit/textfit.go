// Package textfit fits a quote and its author into a fixed pixel canvas:
// greedy word wrap with hard breaks for overlong words, and fallback through
// progressively smaller font candidates until the block fits vertically.
package textfit

import (
	"errors"
	"strings"
	"unicode/utf8"

	"wisepi/internal/model"
)

// AuthorPrefix is put in front of the author line.
const AuthorPrefix = "— "

// ErrOverflow means no candidate kept the block within the canvas height.
var ErrOverflow = errors.New("textfit: text does not fit canvas at any font size")

// Metrics measures text in one bound font face and size.
type Metrics interface {
	// Measure returns the pixel width and line height of text.
	Measure(text string) (width, height int)
}

// Sizer hands out Metrics for a role at a given font spec.
type Sizer interface {
	Metrics(role model.Role, spec model.FontSpec) (Metrics, error)
}

// Wrap breaks text into lines no wider than widthPx. Words are split on
// whitespace and joined with single spaces. A word that does not fit on a
// line of its own is cut from the end until the prefix fits; the cut suffix
// starts the next line. Empty input yields no lines.
func Wrap(text string, widthPx int, m Metrics) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	lines := make([]string, 0, 4)
	cur := ""
	for _, word := range words {
		pending := word
		for pending != "" {
			candidate := pending
			if cur != "" {
				candidate = cur + " " + pending
			}
			if w, _ := m.Measure(candidate); w <= widthPx {
				cur = candidate
				break
			}
			if cur != "" {
				lines = append(lines, cur)
				cur = ""
				continue
			}
			head, tail := cutToWidth(pending, widthPx, m)
			lines = append(lines, head)
			pending = tail
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// cutToWidth drops runes from the end of word until the prefix fits. At
// least one rune is always kept so wrapping makes progress even when a
// single glyph is wider than the line.
func cutToWidth(word string, widthPx int, m Metrics) (head, tail string) {
	head = word
	for utf8.RuneCountInString(head) > 1 {
		if w, _ := m.Measure(head); w <= widthPx {
			break
		}
		_, size := utf8.DecodeLastRuneInString(head)
		head = head[:len(head)-size]
	}
	return head, word[len(head):]
}

// Layout stacks the wrapped quote lines, one blank gap and the wrapped
// author line for a single pair of metrics.
func Layout(q model.Quote, geo model.CanvasGeometry, quoteM, authorM Metrics) model.LayoutResult {
	width := geo.ContentWidth()
	res := model.LayoutResult{}
	y := 0

	add := func(text string, role model.Role, h int) {
		if len(res.Lines) > 0 {
			y += geo.LineSpacing
		}
		res.Lines = append(res.Lines, model.LayoutLine{Text: text, Role: role, OffsetY: y, Height: h})
		y += h
	}

	for _, line := range Wrap(q.Text, width, quoteM) {
		_, h := quoteM.Measure(line)
		add(line, model.RoleQuote, h)
	}

	author := strings.TrimSpace(q.Author)
	if author != "" {
		if len(res.Lines) > 0 {
			_, gap := quoteM.Measure("A")
			add("", model.RoleGap, gap)
		}
		for _, line := range Wrap(AuthorPrefix+author, width, authorM) {
			_, h := authorM.Measure(line)
			add(line, model.RoleAuthor, h)
		}
	}

	res.TotalHeight = y
	return res
}

// Fit tries candidates in order and returns the first layout whose total
// height fits the canvas, with its index. When none fit it returns the
// layout of the last candidate together with ErrOverflow so callers can
// choose between rendering anyway and skipping.
func Fit(q model.Quote, geo model.CanvasGeometry, candidates []model.FontCandidate, sizer Sizer) (model.LayoutResult, int, error) {
	if len(candidates) == 0 {
		return model.LayoutResult{}, -1, errors.New("textfit: no font candidates")
	}

	var last model.LayoutResult
	for i, c := range candidates {
		qm, err := sizer.Metrics(model.RoleQuote, c.Quote)
		if err != nil {
			return model.LayoutResult{}, -1, err
		}
		am, err := sizer.Metrics(model.RoleAuthor, c.Author)
		if err != nil {
			return model.LayoutResult{}, -1, err
		}
		last = Layout(q, geo, qm, am)
		if last.TotalHeight <= geo.ContentHeight() {
			return last, i, nil
		}
	}
	return last, len(candidates) - 1, ErrOverflow
}
