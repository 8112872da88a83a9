package epub

import (
	"context"
	"sync"
)

// Document is a publication being loaded in the background. It satisfies render.Document: Ready
// resolves once the package, spine and navigation are parsed.
type Document struct {
	key  string
	path string

	done chan struct{}
	book *Book
	err  error

	closeOnce sync.Once
}

// Load starts parsing the file at path. key is the catalog key when already known, or "" to use
// the key derived from the package once it is read.
func Load(key, path string) *Document {
	d := &Document{key: key, path: path, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		d.book, d.err = Open(path)
	}()
	return d
}

// NewDocument wraps an already parsed book.
func NewDocument(b *Book) *Document {
	d := &Document{key: b.Key(), path: b.Path(), book: b, done: make(chan struct{})}
	close(d.done)
	return d
}

// Key returns the book key. It is empty until Ready when Load was given no key.
func (d *Document) Key() string {
	if d.key != "" {
		return d.key
	}
	select {
	case <-d.done:
		if d.book != nil {
			return d.book.Key()
		}
	default:
	}
	return ""
}

// Ready blocks until loading finishes or ctx is done.
func (d *Document) Ready(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Book returns the parsed book, or nil before Ready succeeds.
func (d *Document) Book() *Book {
	select {
	case <-d.done:
		return d.book
	default:
		return nil
	}
}

// Close releases the book once loading has finished.
func (d *Document) Close() error {
	<-d.done
	var err error
	d.closeOnce.Do(func() {
		if d.book != nil {
			err = d.book.Close()
		}
	})
	return err
}
