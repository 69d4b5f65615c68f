package render

import (
	"errors"
	"testing"
	"unicode/utf8"

	"wisepi/internal/model"
	"wisepi/internal/textfit"
)

type monoMetrics struct{ h int }

func (m monoMetrics) Measure(s string) (int, int) { return utf8.RuneCountInString(s) * 10, m.h }

type fakeSizer struct{}

func (fakeSizer) Metrics(_ model.Role, spec model.FontSpec) (textfit.Metrics, error) {
	return monoMetrics{h: int(spec.Size)}, nil
}

var twoSizes = []model.FontCandidate{
	{Quote: model.FontSpec{Size: 40}, Author: model.FontSpec{Size: 30}},
	{Quote: model.FontSpec{Size: 20}, Author: model.FontSpec{Size: 16}},
}

func TestCenteredVerticallyCenters(t *testing.T) {
	p := &Centered{Sizer: fakeSizer{}, Candidates: twoSizes}
	geo := model.CanvasGeometry{Width: 264, Height: 176, MarginLeft: 10, MarginRight: 10, LineSpacing: 2}

	frame, err := p.Layout(model.Quote{Text: "Stay curious.", Author: "Anon"}, geo)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if frame.FontIndex != 0 {
		t.Fatalf("font index %d", frame.FontIndex)
	}
	// 40 + 2 + 40(gap) + 2 + 30 = 114 -> (176-114)/2 = 31
	if len(frame.Commands) != 2 {
		t.Fatalf("commands=%+v", frame.Commands)
	}
	if c := frame.Commands[0]; c.Y != 31 || c.X != 10 || c.Role != model.RoleQuote || c.Size != 40 {
		t.Fatalf("quote cmd=%+v", c)
	}
	if c := frame.Commands[1]; c.Y != 31+84 || c.Text != "— Anon" || c.Role != model.RoleAuthor || c.Size != 30 {
		t.Fatalf("author cmd=%+v", c)
	}
}

func TestCenteredSkipsOnFitFailure(t *testing.T) {
	p := &Centered{Sizer: fakeSizer{}, Candidates: twoSizes}
	geo := model.CanvasGeometry{Width: 100, Height: 40}

	frame, err := p.Layout(model.Quote{Text: "far too many words for this tiny panel", Author: "Anon"}, geo)
	if !errors.Is(err, ErrFitFailure) {
		t.Fatalf("want ErrFitFailure, got %v", err)
	}
	if len(frame.Commands) != 0 {
		t.Fatalf("skipped frame has commands: %+v", frame.Commands)
	}
}

func TestTopAnchoredAcceptsOverflow(t *testing.T) {
	p := &TopAnchored{Sizer: fakeSizer{}, Candidates: twoSizes}
	geo := model.CanvasGeometry{Width: 100, Height: 40, MarginLeft: 24, MarginTop: 24, LineSpacing: 6}

	frame, err := p.Layout(model.Quote{Text: "far too many words for this tiny panel", Author: "Anon"}, geo)
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if !frame.Overflow || frame.FontIndex != 1 {
		t.Fatalf("overflow=%v index=%d", frame.Overflow, frame.FontIndex)
	}
	if len(frame.Commands) == 0 || frame.Commands[0].Y != 24 || frame.Commands[0].X != 24 {
		t.Fatalf("first cmd=%+v", frame.Commands)
	}
	for i := 1; i < len(frame.Commands); i++ {
		if frame.Commands[i].Y <= frame.Commands[i-1].Y {
			t.Fatalf("commands not stacked downward: %+v", frame.Commands)
		}
	}
	last := frame.Commands[len(frame.Commands)-1]
	if last.Role != model.RoleAuthor || last.Text != "— Anon" {
		t.Fatalf("last cmd=%+v", last)
	}
}

func TestTopAnchoredNoCenteringWhenFits(t *testing.T) {
	p := &TopAnchored{Sizer: fakeSizer{}, Candidates: twoSizes}
	geo := model.CanvasGeometry{Width: 800, Height: 480, MarginLeft: 24, MarginRight: 24, MarginTop: 24, LineSpacing: 6}

	frame, err := p.Layout(model.Quote{Text: "Stay curious.", Author: "Anon"}, geo)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Overflow || frame.Commands[0].Y != 24 {
		t.Fatalf("frame=%+v", frame)
	}
}
