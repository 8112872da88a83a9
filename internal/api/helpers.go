package api

import (
	"net/url"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
)

// bookKeyParam decodes a book key taken from the path. Keys contain colons; clients may send
// them escaped.
func bookKeyParam(raw string) (string, error) {
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" {
		return "", domainerrors.Validationf("invalid book key %q", raw)
	}
	return key, nil
}

// parseKinds validates a kind filter from the query string.
func parseKinds(raw []string) ([]domain.AnnotationKind, error) {
	kinds := make([]domain.AnnotationKind, 0, len(raw))
	for _, r := range raw {
		k, err := domain.ParseKind(r)
		if err != nil {
			return nil, domainerrors.Validation(err.Error())
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
