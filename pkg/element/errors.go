package element

import (
	"encoding/json"
	"fmt"

	"github.com/yourorg/certificate-service/pkg/apperr"
)

// ToValidationError converts field errors into the shared validation error
func ToValidationError(errs FieldErrors) *apperr.ValidationError {
	ve := &apperr.ValidationError{}
	for field, msg := range errs {
		ve.Add(field, msg)
	}
	return ve
}

func validationError(errs FieldErrors) error {
	return ToValidationError(errs)
}

// decodeElement reads the stored payload of the element being rendered
func decodeElement(rc *RenderContext, out interface{}) error {
	if rc.Element == nil {
		return fmt.Errorf("no element to render")
	}
	if len(rc.Element.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(rc.Element.Data, out); err != nil {
		return fmt.Errorf("failed to decode element %d data: %w", rc.Element.ID, err)
	}
	return nil
}
