package apperr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/certificate-service/pkg/apperr"
)

func TestWrappedErrors(t *testing.T) {
	err := fmt.Errorf("load: %w", apperr.NotFound("template"))
	assert.True(t, apperr.IsNotFound(err))
	assert.False(t, apperr.IsPermission(err))
	assert.EqualError(t, apperr.NotFound("template"), "template not found")

	err = fmt.Errorf("save: %w", apperr.Forbidden("manage template"))
	assert.True(t, apperr.IsPermission(err))
	assert.EqualError(t, apperr.Forbidden("manage template"), "permission denied: manage template")
}

func TestValidationError(t *testing.T) {
	ve := &apperr.ValidationError{}
	assert.False(t, ve.HasErrors())

	ve.Add("width", "must be positive")
	ve.Add("width", "ignored")
	ve.Add("height", "required")
	assert.True(t, ve.HasErrors())
	assert.Equal(t, "must be positive", ve.Fields["width"])
	assert.EqualError(t, ve, "validation failed: height: required; width: must be positive")

	got, ok := apperr.AsValidation(fmt.Errorf("wrapped: %w", ve))
	assert.True(t, ok)
	assert.Same(t, ve, got)

	_, ok = apperr.AsValidation(apperr.NotFound("page"))
	assert.False(t, ok)
}
