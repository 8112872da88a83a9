package validation_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/domain"
	domainerrors "github.com/alexandriaapp/alexandria-server/internal/errors"
	"github.com/alexandriaapp/alexandria-server/internal/validation"
)

func validOptions() domain.DisplayOptions {
	return domain.DisplayOptions{
		FontSize:   100,
		FontFamily: domain.FontGeorgia,
		TextAlign:  domain.AlignLeft,
		Theme:      domain.Theme{Name: "light", Background: "#ffffff", Text: "#2A282A", Link: "#007AFF"},
	}
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()
	assert.NoError(t, v.Validate(validOptions()))
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name      string
		mutate    func(*domain.DisplayOptions)
		wantField string
	}{
		{"font too small", func(o *domain.DisplayOptions) { o.FontSize = 49 }, "font_size"},
		{"font too large", func(o *domain.DisplayOptions) { o.FontSize = 201 }, "font_size"},
		{"unknown family", func(o *domain.DisplayOptions) { o.FontFamily = "comic-sans" }, "font_family"},
		{"unknown alignment", func(o *domain.DisplayOptions) { o.TextAlign = "right" }, "text_align"},
		{"bad theme colour", func(o *domain.DisplayOptions) { o.Theme.Link = "blue" }, "theme.link"},
		{"missing theme colour", func(o *domain.DisplayOptions) { o.Theme.Background = "" }, "theme.background"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(&opts)

			err := v.Validate(opts)
			require.Error(t, err)

			var de *domainerrors.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, http.StatusBadRequest, de.HTTPStatus())
			assert.Contains(t, de.Message, tt.wantField)
			assert.Contains(t, de.Details, tt.wantField)
		})
	}
}

func TestValidator_NumericMessages(t *testing.T) {
	v := validation.New()
	opts := validOptions()
	opts.FontSize = 10

	err := v.Validate(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "font_size must be at least 50")
	assert.NotContains(t, err.Error(), "characters")
}
