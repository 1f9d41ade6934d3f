// Package validator provides small declarative validation rules.
//
// A Rule pairs a boolean Check with the ValidationError reported when the
// check fails. Apply evaluates a list of rules and aggregates the failures
// into ValidationErrors, which implements error and survives errors.Join, so
// callers can attach a domain sentinel and still recover field details:
//
//	err := validator.Apply(
//		validator.Required("code", code),
//		validator.MinLen("code", code, 3),
//		validator.Matches("code", code, codePattern, "letters, digits and hyphens"),
//	)
//	if err != nil {
//		return errors.Join(ErrValidation, err)
//	}
//
// HTTP handlers use ExtractValidationErrors to render per-field messages.
package validator
