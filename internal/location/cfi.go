package location

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

//nolint:govet // participle grammar tags are not standard struct tags
type cfiGrammar struct {
	Parent *pathGrammar `"epubcfi" "(" @@`
	Start  *pathGrammar `( "," @@`
	End    *pathGrammar `  "," @@ )? ")"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type pathGrammar struct {
	Steps  []*stepGrammar `@@*`
	Offset *int           `( ":" @Int )?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type stepGrammar struct {
	Indirect  bool   `@"!"?`
	Index     int    `"/" @Int`
	Assertion string `( "[" @(Ident | Int)? ( ";" Ident "=" (Ident | Int) )* "]" )?`
}

var cfiLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Keyword", Pattern: `epubcfi\b`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.\-]*`},
	{Name: "Punct", Pattern: `[()/!,:\[\];=]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var cfiParser = participle.MustBuild[cfiGrammar](
	participle.Lexer(cfiLexer),
	participle.Elide("Whitespace"),
)

// Step is one "/N" hop of a CFI path.
type Step struct {
	Index    int
	Indirect bool   // preceded by "!", crossing into the referenced content document
	ID       string // optional [id] assertion
}

// CFI is a parsed EPUB canonical fragment identifier.
type CFI struct {
	Path   []Step
	Offset int // character offset of the terminal step, -1 when absent

	// Range bounds, relative to Path. Nil for point locations.
	Start *CFI
	End   *CFI
}

// Parse parses an "epubcfi(...)" string.
func Parse(loc Location) (*CFI, error) {
	ast, err := cfiParser.ParseString("", string(loc))
	if err != nil {
		return nil, fmt.Errorf("parse cfi %q: %w", loc, err)
	}
	c := fromGrammar(ast.Parent)
	if ast.Start != nil && ast.End != nil {
		c.Start = fromGrammar(ast.Start)
		c.End = fromGrammar(ast.End)
	}
	return c, nil
}

func fromGrammar(p *pathGrammar) *CFI {
	c := &CFI{Offset: -1}
	for _, s := range p.Steps {
		c.Path = append(c.Path, Step{Index: s.Index, Indirect: s.Indirect, ID: s.Assertion})
	}
	if p.Offset != nil {
		c.Offset = *p.Offset
	}
	return c
}

// IsRange reports whether c spans a range rather than a point.
func (c *CFI) IsRange() bool {
	return c.Start != nil && c.End != nil
}

// SpineIndex returns the zero based spine position the CFI points into, or -1.
//
// Package documents address the spine as their third child element (/6), and each itemref as an even step.
func (c *CFI) SpineIndex() int {
	if len(c.Path) < 2 || c.Path[0].Index != 6 || c.Path[1].Index < 2 {
		return -1
	}
	return c.Path[1].Index/2 - 1
}

// StartPoint collapses a range to its start. Points are returned unchanged.
func (c *CFI) StartPoint() *CFI {
	if !c.IsRange() {
		return c
	}
	return c.join(c.Start)
}

// EndPoint collapses a range to its end.
func (c *CFI) EndPoint() *CFI {
	if !c.IsRange() {
		return c
	}
	return c.join(c.End)
}

func (c *CFI) join(local *CFI) *CFI {
	out := &CFI{Offset: local.Offset}
	out.Path = append(append(out.Path, c.Path...), local.Path...)
	return out
}

// String renders c back to its canonical form.
func (c *CFI) String() string {
	var b strings.Builder
	b.WriteString("epubcfi(")
	c.writePath(&b)
	if c.IsRange() {
		b.WriteByte(',')
		c.Start.writePath(&b)
		b.WriteByte(',')
		c.End.writePath(&b)
	}
	b.WriteByte(')')
	return b.String()
}

func (c *CFI) writePath(b *strings.Builder) {
	for _, s := range c.Path {
		if s.Indirect {
			b.WriteByte('!')
		}
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(s.Index))
		if s.ID != "" {
			b.WriteByte('[')
			b.WriteString(s.ID)
			b.WriteByte(']')
		}
	}
	if c.Offset >= 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(c.Offset))
	}
}

// compare orders two points in document order. Missing offsets sort before offset 0.
func (c *CFI) compare(o *CFI) int {
	for i := 0; i < len(c.Path) && i < len(o.Path); i++ {
		if d := c.Path[i].Index - o.Path[i].Index; d != 0 {
			return sign(d)
		}
	}
	if d := len(c.Path) - len(o.Path); d != 0 {
		return sign(d)
	}
	return sign(c.Offset - o.Offset)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
