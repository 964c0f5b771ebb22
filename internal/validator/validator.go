// internal/validator/validator.go
package validator

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var Validate *validator.Validate

func init() {
	Validate = validator.New()

	// Cycle tags come in as "2024-12"
	_ = Validate.RegisterValidation("yearmonth", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		_, err := time.Parse("2006-01", s)
		return err == nil
	})

	// Not empty and not only whitespace
	_ = Validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(regexp.MustCompile(`\S`).FindString(s)) > 0
	})

	// Ledger transaction types the API accepts
	_ = Validate.RegisterValidation("txntype", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "expense", "income", "debt", "transfer":
			return true
		default:
			return false
		}
	})
}
