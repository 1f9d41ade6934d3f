package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// Required validates that a string is not empty after trimming whitespace.
func Required(field, value string) Rule {
	return Rule{
		Check: func() bool {
			return strings.TrimSpace(value) != ""
		},
		Error: ValidationError{
			Field:   field,
			Message: "field is required",
			Key:     "validation.required",
		},
	}
}

func MinLen(field, value string, min int) Rule {
	return Rule{
		Check: func() bool {
			return len(value) >= min
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at least %d characters long", min),
			Key:     "validation.min_length",
		},
	}
}

func MaxLen(field, value string, max int) Rule {
	return Rule{
		Check: func() bool {
			return len(value) <= max
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %d characters long", max),
			Key:     "validation.max_length",
		},
	}
}

// Matches validates value against a precompiled pattern. Empty values fail.
func Matches(field, value string, re *regexp.Regexp, description string) Rule {
	return Rule{
		Check: func() bool {
			if value == "" {
				return false
			}
			return re.MatchString(value)
		},
		Error: ValidationError{
			Field:   field,
			Message: "must contain only " + description,
			Key:     "validation.pattern",
		},
	}
}

// Min validates that a numeric value is greater than or equal to min.
func Min[T Numeric](field string, value T, min T) Rule {
	return Rule{
		Check: func() bool {
			return value >= min
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at least %v", min),
			Key:     "validation.min",
		},
	}
}

// Max validates that a numeric value is less than or equal to max.
func Max[T Numeric](field string, value T, max T) Rule {
	return Rule{
		Check: func() bool {
			return value <= max
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %v", max),
			Key:     "validation.max",
		},
	}
}

func InList[T comparable](field string, value T, allowed []T) Rule {
	return Rule{
		Check: func() bool {
			for _, v := range allowed {
				if value == v {
					return true
				}
			}
			return false
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be one of: %v", allowed),
			Key:     "validation.in_list",
		},
	}
}
