package epub

import (
	"bytes"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Section is the text of one spine item, split into paragraphs in reading order.
type Section struct {
	Index      int
	Href       string
	Title      string // first heading, or the document title
	Paragraphs []string
}

// Text returns the paragraphs joined by blank lines.
func (s *Section) Text() string {
	return strings.Join(s.Paragraphs, "\n\n")
}

// blockAtoms are elements whose text forms one paragraph.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Blockquote: true, atom.Pre: true, atom.Dt: true, atom.Dd: true,
	atom.Figcaption: true, atom.Td: true, atom.Th: true,
}

var headingAtoms = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

func parseSection(data []byte) (*Section, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s := &Section{}
	var docTitle string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type != html.ElementNode {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			return
		}
		switch {
		case n.DataAtom == atom.Script || n.DataAtom == atom.Style:
			return
		case n.DataAtom == atom.Title:
			if docTitle == "" {
				docTitle = collapseSpace(textContent(n))
			}
			return
		case blockAtoms[n.DataAtom] && !hasBlockChild(n), n.DataAtom == atom.Div && !hasBlockChild(n):
			text := collapseSpace(textContent(n))
			if text == "" {
				return
			}
			if s.Title == "" && headingAtoms[n.DataAtom] {
				s.Title = text
			}
			s.Paragraphs = append(s.Paragraphs, text)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if s.Title == "" {
		s.Title = docTitle
	}
	return s, nil
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if blockAtoms[c.DataAtom] || c.DataAtom == atom.Div || hasBlockChild(c) {
			return true
		}
	}
	return false
}

// htmlTagPattern detects descriptions that carry markup.
var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote)[\s>/]`)

// htmlToMarkdown converts an HTML description to Markdown. Plain text is returned unchanged.
func htmlToMarkdown(s string) string {
	if s == "" || !htmlTagPattern.MatchString(strings.ToLower(s)) {
		return s
	}
	markdown, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(markdown)
}
