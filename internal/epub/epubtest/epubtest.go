// Package epubtest builds small EPUB archives for tests.
package epubtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Chapter is one spine section.
type Chapter struct {
	Title      string
	Paragraphs []string
}

// Book describes the archive to build.
type Book struct {
	Identifier  string
	Title       string
	Authors     []string
	Language    string
	Description string
	Chapters    []Chapter
	Cover       []byte // PNG bytes, optional
	NCX         bool   // EPUB 2 style navigation instead of a nav document
}

// MobyDick returns a three-chapter book used across tests.
func MobyDick() Book {
	return Book{
		Identifier:  "urn:isbn:9780142437247",
		Title:       "Moby-Dick",
		Authors:     []string{"Herman Melville"},
		Language:    "en",
		Description: "<p>The <em>whale</em>.</p>",
		Chapters: []Chapter{
			{Title: "Loomings", Paragraphs: []string{
				"Call me Ishmael.",
				"Some years ago, never mind how long precisely, having little or no money in my purse, I thought I would sail about a little and see the watery part of the world.",
				"It is a way I have of driving off the spleen and regulating the circulation.",
			}},
			{Title: "The Carpet-Bag", Paragraphs: []string{
				"I stuffed a shirt or two into my old carpet-bag, tucked it under my arm, and started for Cape Horn and the Pacific.",
				"Quitting the good city of old Manhatto, I duly arrived in New Bedford.",
			}},
			{Title: "The Spouter-Inn", Paragraphs: []string{
				"Entering that gable-ended Spouter-Inn, you found yourself in a wide, low, straggling entry with old-fashioned wainscots.",
			}},
		},
	}
}

// Bytes renders the archive.
func (b Book) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	// mimetype must come first and be stored uncompressed.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte("application/epub+zip")); err != nil {
		return nil, err
	}

	files := map[string]string{
		"META-INF/container.xml": containerXML,
		"OEBPS/content.opf":      b.opf(),
	}
	if b.NCX {
		files["OEBPS/toc.ncx"] = b.ncx()
	} else {
		files["OEBPS/nav.xhtml"] = b.nav()
	}
	for i, ch := range b.Chapters {
		files[fmt.Sprintf("OEBPS/text/ch%d.xhtml", i+1)] = chapterXHTML(ch)
	}
	for name, content := range files {
		fw, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			return nil, err
		}
	}
	if len(b.Cover) > 0 {
		fw, err := zw.Create("OEBPS/images/cover.png")
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(b.Cover); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders the archive into dir/name and returns its path.
func (b Book) Write(t testing.TB, dir, name string) string {
	t.Helper()
	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("build epub: %v", err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write epub: %v", err)
	}
	return p
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func (b Book) opf() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	if b.Identifier != "" {
		fmt.Fprintf(&sb, "    <dc:identifier id=\"bookid\">%s</dc:identifier>\n", html.EscapeString(b.Identifier))
	}
	fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", html.EscapeString(b.Title))
	for _, a := range b.Authors {
		fmt.Fprintf(&sb, "    <dc:creator>%s</dc:creator>\n", html.EscapeString(a))
	}
	if b.Language != "" {
		fmt.Fprintf(&sb, "    <dc:language>%s</dc:language>\n", b.Language)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "    <dc:description>%s</dc:description>\n", html.EscapeString(b.Description))
	}
	if len(b.Cover) > 0 && b.NCX {
		sb.WriteString("    <meta name=\"cover\" content=\"cover-img\"/>\n")
	}
	sb.WriteString("  </metadata>\n  <manifest>\n")
	if b.NCX {
		sb.WriteString(`    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>` + "\n")
	} else {
		sb.WriteString(`    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>` + "\n")
	}
	if len(b.Cover) > 0 {
		props := ` properties="cover-image"`
		if b.NCX {
			props = ""
		}
		fmt.Fprintf(&sb, "    <item id=\"cover-img\" href=\"images/cover.png\" media-type=\"image/png\"%s/>\n", props)
	}
	for i := range b.Chapters {
		fmt.Fprintf(&sb, "    <item id=\"ch%d\" href=\"text/ch%d.xhtml\" media-type=\"application/xhtml+xml\"/>\n", i+1, i+1)
	}
	sb.WriteString("  </manifest>\n")
	if b.NCX {
		sb.WriteString("  <spine toc=\"ncx\">\n")
	} else {
		sb.WriteString("  <spine>\n")
	}
	for i := range b.Chapters {
		fmt.Fprintf(&sb, "    <itemref idref=\"ch%d\"/>\n", i+1)
	}
	sb.WriteString("  </spine>\n</package>\n")
	return sb.String()
}

func (b Book) nav() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>Contents</title></head>
<body>
  <nav epub:type="landmarks"><ol><li><a href="text/ch1.xhtml">Start</a></li></ol></nav>
  <nav epub:type="toc"><ol>
`)
	for i, ch := range b.Chapters {
		fmt.Fprintf(&sb, "    <li><a href=\"text/ch%d.xhtml\">%s</a></li>\n", i+1, html.EscapeString(ch.Title))
	}
	sb.WriteString("  </ol></nav>\n</body>\n</html>\n")
	return sb.String()
}

func (b Book) ncx() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
`)
	for i, ch := range b.Chapters {
		fmt.Fprintf(&sb, `    <navPoint id="np%d" playOrder="%d"><navLabel><text>%s</text></navLabel><content src="text/ch%d.xhtml"/></navPoint>`+"\n",
			i+1, i+1, html.EscapeString(ch.Title), i+1)
	}
	sb.WriteString("  </navMap>\n</ncx>\n")
	return sb.String()
}

func chapterXHTML(ch Chapter) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>%s</title></head>
<body>
  <h1>%s</h1>
`, html.EscapeString(ch.Title), html.EscapeString(ch.Title))
	for _, p := range ch.Paragraphs {
		fmt.Fprintf(&sb, "  <p>%s</p>\n", html.EscapeString(p))
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}
