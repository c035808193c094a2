package registration

import (
	"regexp"
	"strings"
)

var (
	nameDisallowed = regexp.MustCompile(`[^A-Za-z\s'-]`)
	isoDate        = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	// Day is not checked against month length: 02/30/2024 is accepted.
	usDate = regexp.MustCompile(`^(0[1-9]|1[0-2])/(0[1-9]|[12][0-9]|3[01])/(19|20)\d{2}$`)
)

// SanitizeName drops every character other than ASCII letters, whitespace,
// hyphen and apostrophe, collapses whitespace and upper-cases the result.
func SanitizeName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(nameDisallowed.ReplaceAllString(s, "")), " "))
}

// NormalizeBirthDate trims s and rewrites YYYY-MM-DD as MM/DD/YYYY. Other
// shapes are returned trimmed and unchanged.
func NormalizeBirthDate(s string) string {
	s = strings.TrimSpace(s)
	if m := isoDate.FindStringSubmatch(s); m != nil {
		return m[2] + "/" + m[3] + "/" + m[1]
	}
	return s
}

// Validate turns raw intake into an IntakeRecord. It has no side effects.
func Validate(raw RawIntake) (IntakeRecord, error) {
	rec := IntakeRecord{
		LastName:   SanitizeName(raw.LastName),
		FirstName:  SanitizeName(raw.FirstName),
		MiddleName: SanitizeName(raw.MiddleName),
	}

	if rec.LastName == "" {
		return IntakeRecord{}, &ValidationError{Reason: ReasonMissingRequiredField, Field: "lastName"}
	}
	if rec.FirstName == "" {
		return IntakeRecord{}, &ValidationError{Reason: ReasonMissingRequiredField, Field: "firstName"}
	}

	birth := NormalizeBirthDate(raw.BirthDate)
	if birth == "" {
		return IntakeRecord{}, &ValidationError{Reason: ReasonMissingRequiredField, Field: "birthDate"}
	}
	if !usDate.MatchString(birth) {
		return IntakeRecord{}, &ValidationError{
			Reason: ReasonInvalidDateFormat,
			Field:  "birthDate",
			Detail: "expected MM/DD/YYYY or YYYY-MM-DD",
		}
	}
	rec.BirthDate = birth

	return rec, nil
}
