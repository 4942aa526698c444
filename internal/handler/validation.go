package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/makeasinger/genreswap/internal/model"
)

// NewValidator returns a validator with the "genre" tag registered. The
// tag accepts any input that sanitises to a supported genre.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		return model.IsSupportedGenre(model.SanitizeGenre(fl.Field().String()))
	})
	return v
}

// formatValidationErrors maps field names to the failed tag
func formatValidationErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		out[e.Field()] = e.Tag()
	}
	return out
}
