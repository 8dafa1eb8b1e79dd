// Package validation runs struct-tag validation for engine inputs and maps
// failures onto the shared error taxonomy.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marina-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if amount, ok := field.Interface().(decimal.Decimal); ok {
			return amount.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("money_positive", func(fl validator.FieldLevel) bool {
		amount, ok := moneyValue(fl)
		return ok && amount.IsPositive()
	})
	_ = v.RegisterValidation("money_nonnegative", func(fl validator.FieldLevel) bool {
		amount, ok := moneyValue(fl)
		return ok && !amount.IsNegative()
	})
	return v
}

func moneyValue(fl validator.FieldLevel) (decimal.Decimal, bool) {
	raw, ok := fl.Field().Interface().(string)
	if !ok {
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}

// Struct validates the tagged struct and returns a VALIDATION_ERROR with
// per-field details on failure.
func Struct(value any) error {
	if err := validate.Struct(value); err != nil {
		return format(err)
	}
	return nil
}

func format(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = message(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return "must be a valid email"
	case "money_positive":
		return "must be greater than zero"
	case "money_nonnegative":
		return "must not be negative"
	}
	return "is invalid"
}
