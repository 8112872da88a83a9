package epub

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
)

// loadNavigation reads the table of contents, preferring the EPUB 3 navigation document over the
// NCX. A book without either gets an empty TOC; chapter titles then come from section headings.
func (b *Book) loadNavigation() error {
	if nav, ok := b.navItem(); ok {
		if data, err := b.readFile(nav.Href); err == nil {
			toc, err := parseNavDocument(data, path.Dir(nav.Href))
			if err == nil && len(toc) > 0 {
				b.TOC = b.bindSpine(toc)
				return nil
			}
		}
	}

	ncx, ok := b.Manifest[b.ncxID]
	if !ok {
		for _, it := range b.Manifest {
			if it.MediaType == "application/x-dtbncx+xml" {
				ncx, ok = it, true
				break
			}
		}
	}
	if !ok {
		return nil
	}
	data, err := b.readFile(ncx.Href)
	if err != nil {
		return nil
	}
	toc, err := parseNCX(data, path.Dir(ncx.Href))
	if err != nil {
		return nil
	}
	b.TOC = b.bindSpine(toc)
	return nil
}

func (b *Book) navItem() (Item, bool) {
	for _, it := range b.Manifest {
		if hasProperty(it.Properties, "nav") {
			return it, true
		}
	}
	return Item{}, false
}

func (b *Book) bindSpine(toc []domain.TOCEntry) []domain.TOCEntry {
	for i := range toc {
		toc[i].SpineIndex = b.SpineIndexOf(toc[i].Href)
	}
	return toc
}

// parseNavDocument extracts the links of the toc nav, in document order.
func parseNavDocument(data []byte, base string) ([]domain.TOCEntry, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var navs []*html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
			navs = append(navs, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	if len(navs) == 0 {
		return nil, fmt.Errorf("no nav element")
	}

	toc := navs[0]
	for _, n := range navs {
		if hasProperty(attr(n, "epub:type"), "toc") {
			toc = n
			break
		}
	}

	var entries []domain.TOCEntry
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			href := attr(n, "href")
			title := collapseSpace(textContent(n))
			if href != "" && title != "" {
				entries = append(entries, domain.TOCEntry{Title: title, Href: resolveHref(base, href)})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(toc)
	return entries, nil
}

// parseNCX extracts navPoints in document order, which is reading order for nested points too.
func parseNCX(data []byte, base string) ([]domain.TOCEntry, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var entries []domain.TOCEntry
	for _, np := range xmlquery.QuerySelectorAll(doc, navPointExpr) {
		label := xmlquery.QuerySelector(np, navLabelExpr)
		content := xmlquery.QuerySelector(np, navContentExpr)
		if label == nil || content == nil {
			continue
		}
		title := collapseSpace(label.InnerText())
		src := content.SelectAttr("src")
		if title == "" || src == "" {
			continue
		}
		entries = append(entries, domain.TOCEntry{Title: title, Href: resolveHref(base, src)})
	}
	return entries, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key || (a.Namespace != "" && a.Namespace+":"+a.Key == key) {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
