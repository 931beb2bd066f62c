package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their json names so messages match the request body.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Let numeric tags (gt, gte, lte) operate on decimals.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// fieldPath turns "NewInvoice.items[0].quantity" into "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return "is invalid (" + fe.Tag() + ")"
}

// validateStruct runs the struct tags and returns the first violation.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &ValidationError{Field: fieldPath(verrs[0]), Message: describeFieldError(verrs[0])}
	}
	return err
}

func (input *NewInvoice) normalize() {
	if input.InvoiceNumber != nil {
		n := strings.TrimSpace(*input.InvoiceNumber)
		if n == "" {
			input.InvoiceNumber = nil
		} else {
			input.InvoiceNumber = &n
		}
	}
	if input.PaymentMethod != nil {
		m := strings.TrimSpace(*input.PaymentMethod)
		if m == "" {
			input.PaymentMethod = nil
		} else {
			input.PaymentMethod = &m
		}
	}
}

// checkScale rejects values the decimal(20,4) columns would round on write.
func checkScale(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(amountScale)) {
		return newValidationError(field, "must have at most %d decimal places", amountScale)
	}
	return nil
}

// Validate checks an invoice intent and returns the first violation found.
func (input *NewInvoice) Validate() error {
	input.normalize()
	if err := validateStruct(input); err != nil {
		return err
	}
	if input.PaymentStatus != "" && !input.PaymentStatus.IsValid() {
		return newValidationError("payment_status", "must be one of UNPAID, PENDING, PAID")
	}

	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{{"igst", input.Igst}, {"cgst", input.Cgst}, {"sgst", input.Sgst}, {"amount_paid", input.AmountPaid}} {
		if err := checkScale(f.name, f.value); err != nil {
			return err
		}
	}

	seen := make(map[int]int, len(input.Items))
	for i, item := range input.Items {
		if err := checkScale(fmt.Sprintf("items[%d].quantity", i), item.Quantity); err != nil {
			return err
		}
		if item.UnitPrice != nil {
			if item.UnitPrice.IsNegative() {
				return newValidationError(fmt.Sprintf("items[%d].unit_price", i), "must be at least 0")
			}
			if err := checkScale(fmt.Sprintf("items[%d].unit_price", i), *item.UnitPrice); err != nil {
				return err
			}
		}
		if item.CrateQuantity > 0 && item.CrateId == nil {
			return newValidationError(fmt.Sprintf("items[%d].crate_id", i), "is required when crate_quantity is set")
		}
		if first, dup := seen[item.ProductId]; dup {
			return newValidationError(fmt.Sprintf("items[%d].product_id", i), "repeats items[%d].product_id", first)
		}
		seen[item.ProductId] = i
	}

	if input.AmountPaid.IsPositive() && input.PaymentMethod == nil {
		return newValidationError("payment_method", "is required when amount_paid is set")
	}
	return nil
}

func (input *NewInvoice) validateForUpdate() error {
	if err := input.Validate(); err != nil {
		return err
	}
	if !input.AmountPaid.IsZero() {
		return newValidationError("amount_paid", "cannot be changed by an update, apply a payment instead")
	}
	return nil
}

func (input *NewPayment) Validate() error {
	input.PaymentMethod = strings.TrimSpace(input.PaymentMethod)
	if !input.Amount.IsPositive() {
		return newValidationError("amount", "must be greater than 0")
	}
	if err := checkScale("amount", input.Amount); err != nil {
		return err
	}
	return validateStruct(input)
}
