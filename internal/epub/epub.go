// Package epub reads EPUB 2 and 3 publications: the OCF container, the OPF package document, the
// navigation document (nav or NCX) and the text of each spine section.
package epub

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
)

const containerPath = "META-INF/container.xml"

// maxEntrySize caps how much of a single archive entry is read into memory.
const maxEntrySize = 64 << 20

var (
	// ErrNotEPUB is returned for archives without a usable container or package document.
	ErrNotEPUB = errors.New("not an epub")
	// ErrNoSection is returned for spine indexes outside the book.
	ErrNoSection = errors.New("no such section")
)

// Metadata is the Dublin Core subset the reader uses.
type Metadata struct {
	Identifier  string
	Title       string
	Creators    []string
	Language    string
	Publisher   string
	Description string // markdown
}

// Item is one manifest entry. Href is resolved against the archive root.
type Item struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// Book is a parsed publication. Section text is parsed on first use.
type Book struct {
	Metadata Metadata
	Manifest map[string]Item
	Spine    []Item
	TOC      []domain.TOCEntry
	Cover    *Item

	path     string
	size     int64
	modTime  int64
	files    map[string]*zip.File
	closer   io.Closer
	ncxID    string

	mu       sync.Mutex
	sections []*Section
}

// Open reads the publication at path.
func Open(path string) (*Book, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	b, err := Read(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	b.closer = f
	b.path = path
	b.modTime = info.ModTime().Unix()
	if b.Metadata.Identifier == "" {
		b.Metadata.Identifier = uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.Base(path))).String()
	}
	return b, nil
}

// Read parses a publication from r.
func Read(r io.ReaderAt, size int64) (*Book, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEPUB, err)
	}
	b := &Book{size: size, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		b.files[f.Name] = f
	}

	container, err := b.readFile(containerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEPUB, err)
	}
	opfPath, err := parseContainer(container)
	if err != nil {
		return nil, err
	}
	opf, err := b.readFile(opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: package document: %v", ErrNotEPUB, err)
	}
	if err := b.parsePackage(opf, path.Dir(opfPath)); err != nil {
		return nil, err
	}
	if err := b.loadNavigation(); err != nil {
		return nil, err
	}
	b.sections = make([]*Section, len(b.Spine))
	return b, nil
}

// Close releases the underlying file. Sections not yet parsed become unreadable.
func (b *Book) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Key returns the book key derived from the package identifier.
func (b *Book) Key() string {
	return domain.BookKeyFor(b.Metadata.Identifier)
}

// Path returns the file the book was opened from, if any.
func (b *Book) Path() string { return b.path }

// SpineLength returns the number of sections in reading order.
func (b *Book) SpineLength() int { return len(b.Spine) }

// SpineIndexOf returns the spine position of href (fragment ignored), or -1.
func (b *Book) SpineIndexOf(href string) int {
	href, _, _ = strings.Cut(href, "#")
	for i, it := range b.Spine {
		if it.Href == href {
			return i
		}
	}
	return -1
}

// Section returns the parsed text of spine item i.
func (b *Book) Section(i int) (*Section, error) {
	if i < 0 || i >= len(b.Spine) {
		return nil, fmt.Errorf("%w: %d", ErrNoSection, i)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s := b.sections[i]; s != nil {
		return s, nil
	}
	raw, err := b.readFile(b.Spine[i].Href)
	if err != nil {
		return nil, err
	}
	s, err := parseSection(raw)
	if err != nil {
		return nil, fmt.Errorf("section %s: %w", b.Spine[i].Href, err)
	}
	s.Index = i
	s.Href = b.Spine[i].Href
	b.sections[i] = s
	return s, nil
}

// CoverImage returns the bytes of the cover image, if the package declares one.
func (b *Book) CoverImage() ([]byte, string, error) {
	if b.Cover == nil {
		return nil, "", os.ErrNotExist
	}
	data, err := b.readFile(b.Cover.Href)
	if err != nil {
		return nil, "", err
	}
	return data, b.Cover.MediaType, nil
}

// Domain converts the book into a catalog entry.
func (b *Book) Domain() *domain.Book {
	db := &domain.Book{
		Key:         b.Key(),
		Identifier:  b.Metadata.Identifier,
		Title:       b.Metadata.Title,
		Authors:     b.Metadata.Creators,
		Language:    b.Metadata.Language,
		Publisher:   b.Metadata.Publisher,
		Description: b.Metadata.Description,
		Path:        b.path,
		Size:        b.size,
		ModTime:     b.modTime,
		SpineLength: len(b.Spine),
		Contents:    b.TOC,
	}
	if db.Title == "" && b.path != "" {
		db.Title = strings.TrimSuffix(filepath.Base(b.path), filepath.Ext(b.path))
	}
	if b.Cover != nil {
		db.Cover = &domain.CoverImage{Href: b.Cover.Href, MediaType: b.Cover.MediaType}
	}
	return db
}

func (b *Book) readFile(name string) ([]byte, error) {
	f, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(rc, maxEntrySize)); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// resolveHref joins a package-relative href onto base and strips the fragment.
func resolveHref(base, href string) string {
	href, _, _ = strings.Cut(href, "#")
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	if base == "." || base == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(base, href))
}
