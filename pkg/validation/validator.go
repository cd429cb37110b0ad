package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	providerIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)
	tierNameRegex   = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)
)

func init() {
	Validate = validator.New()

	// Register custom validators
	_ = Validate.RegisterValidation("latitude", validateLatitude)
	_ = Validate.RegisterValidation("longitude", validateLongitude)
	_ = Validate.RegisterValidation("provider_id", validateProviderID)
	_ = Validate.RegisterValidation("tier", validateTier)
	_ = Validate.RegisterValidation("strategy", validateStrategy)
	_ = Validate.RegisterValidation("zoom", validateZoom)
}

// ValidateStruct validates a struct and returns a ValidationError if validation fails
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError aggregates per-field validation failures.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// NewValidationError converts validator errors into a ValidationError
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	ve := &ValidationError{}
	for _, fe := range errs {
		ve.Fields = append(ve.Fields, FieldError{
			Field:   strings.ToLower(fe.Field()),
			Rule:    fe.Tag(),
			Message: messageFor(fe),
		})
	}
	return ve
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func messageFor(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "latitude":
		return fmt.Sprintf("%s must be between -90 and 90", field)
	case "longitude":
		return fmt.Sprintf("%s must be between -180 and 180", field)
	case "provider_id":
		return fmt.Sprintf("%s must be a lowercase identifier", field)
	case "tier":
		return fmt.Sprintf("%s must be a lowercase tier name", field)
	case "strategy":
		return fmt.Sprintf("%s must be one of failover, round_robin, weighted", field)
	case "zoom":
		return fmt.Sprintf("%s must be between 0 and 22", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// validateLatitude checks if latitude is within valid range (-90 to 90)
func validateLatitude(fl validator.FieldLevel) bool {
	latitude := fl.Field().Float()
	return latitude >= -90.0 && latitude <= 90.0
}

// validateLongitude checks if longitude is within valid range (-180 to 180)
func validateLongitude(fl validator.FieldLevel) bool {
	longitude := fl.Field().Float()
	return longitude >= -180.0 && longitude <= 180.0
}

// validateProviderID checks the lowercase identifier shape used for providers
func validateProviderID(fl validator.FieldLevel) bool {
	return providerIDRegex.MatchString(fl.Field().String())
}

// validateTier checks the identifier shape of a tier name. Tier existence is
// configuration, owned by the entitlement resolver, not a validation rule.
func validateTier(fl validator.FieldLevel) bool {
	return tierNameRegex.MatchString(fl.Field().String())
}

// validateStrategy checks if the selection strategy is known
func validateStrategy(fl validator.FieldLevel) bool {
	strategy := fl.Field().String()
	return contains([]string{"failover", "round_robin", "weighted"}, strategy)
}

// validateZoom checks if a tile zoom level is within web mercator bounds
func validateZoom(fl validator.FieldLevel) bool {
	zoom := fl.Field().Int()
	return zoom >= 0 && zoom <= 22
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	item = strings.ToLower(strings.TrimSpace(item))
	for _, s := range slice {
		if strings.ToLower(strings.TrimSpace(s)) == item {
			return true
		}
	}
	return false
}

// ValidateCoordinates validates latitude and longitude
func ValidateCoordinates(latitude, longitude float64) error {
	if latitude < -90.0 || latitude > 90.0 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", latitude)
	}
	if longitude < -180.0 || longitude > 180.0 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", longitude)
	}
	return nil
}

// ValidateProviderID validates the provider identifier shape
func ValidateProviderID(id string) bool {
	return providerIDRegex.MatchString(id)
}
