package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/library"
)

func (s *Server) registerLibraryRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "scanLibrary",
		Method:      http.MethodPost,
		Path:        "/api/v1/library/scan",
		Summary:     "Scan library",
		Description: "Rescans the books directory and reconciles the catalog with it",
		Tags:        []string{"Library"},
	}, s.handleScanLibrary)
}

// ScanOutput wraps scan results for Huma.
type ScanOutput struct {
	Body *library.ScanResult
}

func (s *Server) handleScanLibrary(ctx context.Context, _ *struct{}) (*ScanOutput, error) {
	if s.services.Library == nil {
		return nil, domainerrors.Unavailable("no books directory is configured")
	}
	res, err := s.services.Library.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ScanOutput{Body: res}, nil
}
