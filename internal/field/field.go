// Package field defines the closed enumeration of supported PII fields and
// their short, stable aliases. The alias set is part of the on-disk
// index-key format and MUST NOT change silently.
package field

import (
	"regexp"
	"strings"
)

// Field identifies one of the fixed enumerated PII field kinds.
type Field int

const (
	Unknown Field = iota
	FirstName
	LastName
	MiddleName
	FullNameField
	Email
	Phone
	DateOfBirth
	StreetAddress
	City
	Country
	TaxID
	PassportID
)

// aliases is the wire-stable alias table. Ordering here is
// cosmetic; the strings are what persists in index keys.
var aliases = map[Field]string{
	FirstName:     "fn",
	LastName:      "ln",
	MiddleName:    "mn",
	FullNameField: "name",
	Email:         "email",
	Phone:         "phone",
	DateOfBirth:   "dob",
	StreetAddress: "addr",
	City:          "city",
	Country:       "country",
	TaxID:         "taxid",
	PassportID:    "passport",
}

var byAlias = func() map[string]Field {
	m := make(map[string]Field, len(aliases))
	for f, a := range aliases {
		m[a] = f
	}
	return m
}()

var fullNames = map[Field]string{
	FirstName:     "FIRST_NAME",
	LastName:      "LAST_NAME",
	MiddleName:    "MIDDLE_NAME",
	FullNameField: "FULL_NAME",
	Email:         "EMAIL",
	Phone:         "PHONE",
	DateOfBirth:   "DATE_OF_BIRTH",
	StreetAddress: "STREET_ADDRESS",
	City:          "CITY",
	Country:       "COUNTRY",
	TaxID:         "TAX_ID",
	PassportID:    "PASSPORT_ID",
}

var byFullName = func() map[string]Field {
	m := make(map[string]Field, len(fullNames))
	for f, n := range fullNames {
		m[n] = f
	}
	return m
}()

// Alias returns the short wire alias for f, and false if f is not a known
// field.
func Alias(f Field) (string, bool) {
	a, ok := aliases[f]
	return a, ok
}

// FullName returns the audit-facing full field name for f, and false if f is not a known field.
func FullName(f Field) (string, bool) {
	n, ok := fullNames[f]
	return n, ok
}

// FromAlias resolves a wire alias back to a Field.
func FromAlias(alias string) (Field, bool) {
	f, ok := byAlias[alias]
	return f, ok
}

// FromFullName resolves an audit full-name string back to a Field. This is
// the lookup the predicate evaluator uses to translate a caller-supplied
// field-full-name to an alias.
func FromFullName(name string) (Field, bool) {
	f, ok := byFullName[strings.ToUpper(strings.TrimSpace(name))]
	return f, ok
}

// Inference regexes, repurposed from password/email strength-checking
// patterns into field-type sniffing for untagged values.
var (
	reEmail    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	rePhone    = regexp.MustCompile(`^\+?[\d\s().-]{7,}$`)
	reTenDigit = regexp.MustCompile(`\d{10}`)
	rePassport = regexp.MustCompile(`^[A-Z][0-9]{7,8}$`)
	reTaxID    = regexp.MustCompile(`^\d{2}-?\d{7}$`)
)

// Infer guesses the field kind of an untagged raw value. It is a courtesy
// for untagged corpora; tagged ingestion (the field is known) always bypasses
// inference, so this is only ever consulted by the untagged
// ingestion path.
func Infer(raw string) Field {
	v := strings.TrimSpace(raw)
	switch {
	case v == "":
		return Unknown
	case reEmail.MatchString(v):
		return Email
	case rePassport.MatchString(v):
		return PassportID
	case reTaxID.MatchString(v):
		return TaxID
	case reTenDigit.MatchString(strings.Map(digitsOnly, v)) && rePhone.MatchString(v):
		return Phone
	default:
		return Unknown
	}
}

func digitsOnly(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

// All returns every known field, for enumeration in conformance tests and
// CLI help text.
func All() []Field {
	out := make([]Field, 0, len(aliases))
	for f := range aliases {
		out = append(out, f)
	}
	return out
}
