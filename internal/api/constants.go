package api

// Cache-Control header values.
const (
	CacheOneDayPrivate = "private, max-age=86400"
	CacheNoStore       = "no-cache"
)

// ReaderHeader identifies the reader for reader-scoped data (favourites). It is an opaque id,
// not a credential.
const ReaderHeader = "X-Reader-ID"
