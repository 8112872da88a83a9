package epub

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Package documents mix the OPF, Dublin Core and sometimes legacy "opf:" prefixes, so every
// expression matches on local names only.
var (
	rootfileExpr   = xpath.MustCompile(`//*[local-name()='rootfile']`)
	packageExpr    = xpath.MustCompile(`/*[local-name()='package']`)
	metadataExpr   = xpath.MustCompile(`//*[local-name()='metadata']/*`)
	manifestExpr   = xpath.MustCompile(`//*[local-name()='manifest']/*[local-name()='item']`)
	spineExpr      = xpath.MustCompile(`//*[local-name()='spine']`)
	itemrefExpr    = xpath.MustCompile(`//*[local-name()='spine']/*[local-name()='itemref']`)
	coverMetaExpr  = xpath.MustCompile(`//*[local-name()='metadata']/*[local-name()='meta'][@name='cover']`)
	navPointExpr   = xpath.MustCompile(`//*[local-name()='navPoint']`)
	navLabelExpr   = xpath.MustCompile(`*[local-name()='navLabel']/*[local-name()='text']`)
	navContentExpr = xpath.MustCompile(`*[local-name()='content']`)
)

const packageMediaType = "application/oebps-package+xml"

// parseContainer returns the archive path of the first package document.
func parseContainer(data []byte) (string, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: container: %v", ErrNotEPUB, err)
	}
	var fallback string
	for _, rf := range xmlquery.QuerySelectorAll(doc, rootfileExpr) {
		full := rf.SelectAttr("full-path")
		if full == "" {
			continue
		}
		if mt := rf.SelectAttr("media-type"); mt == "" || mt == packageMediaType {
			return full, nil
		}
		if fallback == "" {
			fallback = full
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: container lists no package document", ErrNotEPUB)
}

// parsePackage fills metadata, manifest, spine and cover from the OPF. Hrefs are resolved against
// base, the directory holding the package document.
func (b *Book) parsePackage(data []byte, base string) error {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: package document: %v", ErrNotEPUB, err)
	}
	pkg := xmlquery.QuerySelector(doc, packageExpr)
	if pkg == nil {
		return fmt.Errorf("%w: no package element", ErrNotEPUB)
	}

	b.Metadata = parseMetadata(doc, pkg.SelectAttr("unique-identifier"))

	b.Manifest = make(map[string]Item)
	for _, n := range xmlquery.QuerySelectorAll(doc, manifestExpr) {
		it := Item{
			ID:         n.SelectAttr("id"),
			Href:       resolveHref(base, n.SelectAttr("href")),
			MediaType:  n.SelectAttr("media-type"),
			Properties: n.SelectAttr("properties"),
		}
		if it.ID != "" {
			b.Manifest[it.ID] = it
		}
	}

	for _, ref := range xmlquery.QuerySelectorAll(doc, itemrefExpr) {
		it, ok := b.Manifest[ref.SelectAttr("idref")]
		if !ok {
			continue
		}
		b.Spine = append(b.Spine, it)
	}
	if len(b.Spine) == 0 {
		return fmt.Errorf("%w: empty spine", ErrNotEPUB)
	}

	b.Cover = b.findCover(doc)
	if spine := xmlquery.QuerySelector(doc, spineExpr); spine != nil {
		b.ncxID = spine.SelectAttr("toc")
	}
	return nil
}

func parseMetadata(doc *xmlquery.Node, uniqueID string) Metadata {
	var md Metadata
	var firstIdentifier string
	for _, n := range xmlquery.QuerySelectorAll(doc, metadataExpr) {
		text := strings.TrimSpace(n.InnerText())
		if text == "" {
			continue
		}
		switch n.Data {
		case "identifier":
			if firstIdentifier == "" {
				firstIdentifier = text
			}
			if uniqueID != "" && n.SelectAttr("id") == uniqueID {
				md.Identifier = text
			}
		case "title":
			if md.Title == "" {
				md.Title = text
			}
		case "creator":
			md.Creators = append(md.Creators, text)
		case "language":
			if md.Language == "" {
				md.Language = text
			}
		case "publisher":
			if md.Publisher == "" {
				md.Publisher = text
			}
		case "description":
			if md.Description == "" {
				md.Description = htmlToMarkdown(text)
			}
		}
	}
	if md.Identifier == "" {
		md.Identifier = firstIdentifier
	}
	return md
}

// findCover looks for an EPUB 3 cover-image item, then the EPUB 2 cover meta, then an image item
// whose id is "cover".
func (b *Book) findCover(doc *xmlquery.Node) *Item {
	for _, it := range b.Manifest {
		if hasProperty(it.Properties, "cover-image") {
			return &it
		}
	}
	if meta := xmlquery.QuerySelector(doc, coverMetaExpr); meta != nil {
		if it, ok := b.Manifest[meta.SelectAttr("content")]; ok {
			return &it
		}
	}
	if it, ok := b.Manifest["cover"]; ok && strings.HasPrefix(it.MediaType, "image/") {
		return &it
	}
	return nil
}

func hasProperty(props, want string) bool {
	for p := range strings.FieldsSeq(props) {
		if p == want {
			return true
		}
	}
	return false
}
