package validate

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Struct validates any struct value using the shared validator instance.
func Struct(v interface{}) error {
	return validate.Struct(v)
}
