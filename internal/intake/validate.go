package intake

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rzpsarthak13/inventory-sync/internal/core"
)

// DateLayout is the format of manufacturing and expiry dates.
const DateLayout = "2006-01-02"

var batchFormat = regexp.MustCompile(`(?i)^[A-Z0-9]{4,20}$`)

// Request is an adjustment as entered by the operator. Item details are
// optional; when ItemID is empty the item is looked up by SKU.
type Request struct {
	SKU              string      `json:"sku" validate:"required,max=64"`
	Action           core.Action `json:"action" validate:"required,oneof=ADD REDUCE"`
	Quantity         int         `json:"quantity" validate:"gt=0"`
	Reason           string      `json:"reason" validate:"required"`
	LocationID       string      `json:"location_id" validate:"required"`
	BatchOrSerial    string      `json:"batch_or_serial,omitempty" validate:"omitempty,batch"`
	ManufacturedDate string      `json:"manufactured_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ExpiryDate       string      `json:"expiry_date,omitempty" validate:"omitempty,datetime=2006-01-02"`

	ItemID        string `json:"item_id,omitempty"`
	ItemName      string `json:"item_name,omitempty"`
	BatchTracked  bool   `json:"batch_tracked,omitempty"`
	ShelfLifeDays int    `json:"shelf_life_days,omitempty" validate:"gte=0"`
}

// FieldError is one problem with one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a request. It is returned
// before anything reaches the sync engine.
type ValidationError struct {
	Problems []FieldError `json:"problems"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Validator checks requests against their struct tags and the item rules.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewValidator creates a validator with the batch tag registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("batch", func(fl validator.FieldLevel) bool {
		return batchFormat.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("failed to register batch validation: %v", err))
	}
	return &Validator{validate: v, now: time.Now}
}

// Check validates the request shape: required fields, positive quantity,
// known action and well-formed batch and dates.
func (v *Validator) Check(req *Request) error {
	req.SKU = strings.TrimSpace(req.SKU)
	req.Reason = strings.TrimSpace(req.Reason)
	req.BatchOrSerial = strings.TrimSpace(req.BatchOrSerial)
	req.Action = core.Action(strings.ToUpper(string(req.Action)))

	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	result := &ValidationError{}
	for _, fe := range verrs {
		result.add(fe.Field(), message(fe))
	}
	return result
}

// Draft applies the item rules and builds the operation draft. A missing
// expiry date is derived from the manufacturing date and shelf life.
func (v *Validator) Draft(req Request, item core.ItemInfo) (core.OperationDraft, error) {
	problems := &ValidationError{}

	if item.BatchTracked && req.BatchOrSerial == "" {
		problems.add("batch_or_serial", "Batch number is required")
	}

	expiry := req.ExpiryDate
	if expiry == "" && req.ManufacturedDate != "" && item.ShelfLifeDays > 0 {
		calculated, err := CalculateExpiryDate(req.ManufacturedDate, item.ShelfLifeDays)
		if err == nil {
			expiry = calculated
		}
	}
	if expiry == "" && req.Action == core.ActionAdd && item.RequiresExpiryDate() {
		problems.add("expiry_date", "Expiry date is required for items with a shelf life")
	}
	if expiry != "" {
		if msg := v.checkExpiry(expiry, req.ManufacturedDate); msg != "" {
			problems.add("expiry_date", msg)
		}
	}

	if err := problems.orNil(); err != nil {
		return core.OperationDraft{}, err
	}

	return core.OperationDraft{
		ItemID:           item.ItemID,
		ItemSKU:          req.SKU,
		ItemName:         item.Name,
		Action:           req.Action,
		Quantity:         req.Quantity,
		Reason:           req.Reason,
		BatchOrSerial:    strings.ToUpper(req.BatchOrSerial),
		ManufacturedDate: req.ManufacturedDate,
		ExpiryDate:       expiry,
		LocationID:       req.LocationID,
	}, nil
}

// checkExpiry returns an empty string when the expiry date is acceptable.
// Today counts as not in the past.
func (v *Validator) checkExpiry(expiryDate, manufacturedDate string) string {
	expiry, err := time.Parse(DateLayout, expiryDate)
	if err != nil {
		return "Invalid expiry date"
	}
	today, _ := time.Parse(DateLayout, v.now().Format(DateLayout))
	if expiry.Before(today) {
		return "Expiry date cannot be in the past"
	}
	if manufacturedDate != "" {
		mfg, err := time.Parse(DateLayout, manufacturedDate)
		if err == nil && !expiry.After(mfg) {
			return "Expiry date must be after manufacturing date"
		}
	}
	return ""
}

// CalculateExpiryDate adds shelfLifeDays to a YYYY-MM-DD manufacturing date.
func CalculateExpiryDate(manufacturedDate string, shelfLifeDays int) (string, error) {
	mfg, err := time.Parse(DateLayout, manufacturedDate)
	if err != nil {
		return "", fmt.Errorf("invalid manufacturing date %q: %w", manufacturedDate, err)
	}
	return mfg.AddDate(0, 0, shelfLifeDays).Format(DateLayout), nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "batch":
		return "Batch number must be 4-20 alphanumeric characters"
	case "datetime":
		return fmt.Sprintf("%s must be a date in YYYY-MM-DD format", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
