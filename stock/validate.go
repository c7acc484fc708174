package stock

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// productRules mirrors the validated fields of a Product. Field errors are
// reported under the json names used by the API.
type productRules struct {
	Name          string          `json:"name" validate:"required,max=120"`
	Category      Category        `json:"category" validate:"category"`
	Description   string          `json:"description" validate:"max=1000"`
	Price         decimal.Decimal `json:"price" validate:"gte=0"`
	Cost          decimal.Decimal `json:"cost" validate:"gte=0"`
	Unit          Unit            `json:"unit" validate:"unit"`
	StockQuantity int             `json:"stockQuantity" validate:"gte=0"`
	MinStockLevel int             `json:"minStockLevel" validate:"gte=0"`
	Supplier      string          `json:"supplier" validate:"max=200"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Money is compared as float64 only for range checks.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return Category(fl.Field().String()).Valid()
	})
	v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		return Unit(fl.Field().String()).Valid()
	})

	return v
}

func validateProduct(p Product) error {
	rules := productRules{
		Name:          p.Name,
		Category:      p.Category,
		Description:   p.Description,
		Price:         p.Price,
		Cost:          p.Cost,
		Unit:          p.Unit,
		StockQuantity: p.StockQuantity,
		MinStockLevel: p.MinStockLevel,
		Supplier:      p.Supplier,
	}
	return toValidationError(validate.Struct(rules))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &InternalError{Op: "validate", Err: err}
	}

	v := &ValidationError{}
	for _, fe := range fieldErrs {
		v.Add(fe.Field(), fieldMessage(fe))
	}
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "category":
		return "must be one of " + joinEnum(Categories)
	case "unit":
		return "must be one of " + joinEnum(Units)
	}
	return "is invalid"
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
