package memdoc

import (
	"slices"
	"strings"

	"github.com/alexandriaapp/alexandria-server/internal/location"
	"github.com/alexandriaapp/alexandria-server/internal/render"
)

// run is a stretch of paragraph text carrying the same set of marks.
type run struct {
	text  []rune
	marks []location.Location
}

// paragraph is rendered text as a run tree one level deep. Marking splits runs, unmarking merges
// them back; the concatenated text never changes.
type paragraph struct {
	runs []run
}

func newParagraph(text string) *paragraph {
	return &paragraph{runs: []run{{text: []rune(text)}}}
}

func (p *paragraph) len() int {
	n := 0
	for _, r := range p.runs {
		n += len(r.text)
	}
	return n
}

func (p *paragraph) text() string {
	var sb strings.Builder
	for _, r := range p.runs {
		sb.WriteString(string(r.text))
	}
	return sb.String()
}

func (p *paragraph) slice(start, end int) string {
	return string([]rune(p.text())[start:end])
}

// splitAt makes offset a run boundary.
func (p *paragraph) splitAt(offset int) {
	pos := 0
	for i, r := range p.runs {
		if offset > pos && offset < pos+len(r.text) {
			cut := offset - pos
			left := run{text: slices.Clone(r.text[:cut]), marks: slices.Clone(r.marks)}
			right := run{text: slices.Clone(r.text[cut:]), marks: slices.Clone(r.marks)}
			p.runs = slices.Replace(p.runs, i, i+1, left, right)
			return
		}
		pos += len(r.text)
	}
}

// wrap adds mark to the text in [start, end).
func (p *paragraph) wrap(start, end int, mark location.Location) {
	p.splitAt(start)
	p.splitAt(end)
	pos := 0
	for i := range p.runs {
		n := len(p.runs[i].text)
		if pos >= start && pos+n <= end && n > 0 {
			p.runs[i].marks = append(p.runs[i].marks, mark)
		}
		pos += n
	}
}

// unwrap removes mark everywhere and merges runs that end up with equal marks.
func (p *paragraph) unwrap(mark location.Location) {
	for i := range p.runs {
		p.runs[i].marks = slices.DeleteFunc(p.runs[i].marks, func(m location.Location) bool { return m == mark })
	}
	merged := p.runs[:0]
	for _, r := range p.runs {
		if k := len(merged) - 1; k >= 0 && slices.Equal(merged[k].marks, r.marks) {
			merged[k].text = append(merged[k].text, r.text...)
			continue
		}
		merged = append(merged, r)
	}
	p.runs = merged
}

// Segment is a piece of visible text and the decorations applied to it.
type Segment struct {
	Text    string   `json:"text"`
	Classes []string `json:"classes,omitempty"`
}

// Paragraph is one visible paragraph.
type Paragraph struct {
	Index    int       `json:"index"`
	Segments []Segment `json:"segments"`
}

// segments renders runs clipped to [start, end).
func (p *paragraph) segments(start, end int, decorations map[location.Location]render.Decoration) []Segment {
	var out []Segment
	pos := 0
	for _, r := range p.runs {
		lo, hi := max(pos, start), min(pos+len(r.text), end)
		if lo < hi {
			seg := Segment{Text: string(r.text[lo-pos : hi-pos])}
			for _, m := range r.marks {
				if d, ok := decorations[m]; ok && !slices.Contains(seg.Classes, d.Class) {
					seg.Classes = append(seg.Classes, d.Class)
				}
			}
			out = append(out, seg)
		}
		pos += len(r.text)
	}
	return out
}
