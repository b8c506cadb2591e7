package utils

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// ValidateStruct runs `validate` struct tags. Use ProcessValidationErrors on the result.
func ValidateStruct(obj any) error {
	return GetValidator().Struct(obj)
}
