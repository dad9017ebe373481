package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// documentValidate checks persisted documents. Initialized in init() with
// the custom status rule.
var documentValidate *validator.Validate

func init() {
	documentValidate = validator.New()
	_ = documentValidate.RegisterValidation("status", validateStatus)
}

func validateStatus(fl validator.FieldLevel) bool {
	return Status(fl.Field().String()).Valid()
}

// ValidateResponse is the document validation hook. It applies the abandoned
// invariant before checking structure, so a document that reaches storage
// through any code path leaves validation already corrected.
func ValidateResponse(doc *Response) (bool, error) {
	if doc == nil {
		return false, fmt.Errorf("validate response: nil document")
	}
	fixed, corrected := EnforceAbandonedInvariant(*doc)
	*doc = fixed
	if err := documentValidate.Struct(doc); err != nil {
		return corrected, fmt.Errorf("validate response %s: %w", doc.ID, err)
	}
	return corrected, nil
}
