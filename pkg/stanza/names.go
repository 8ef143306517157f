package stanza

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var busNameElement = regexp.MustCompile(`^[A-Za-z_-][A-Za-z0-9_-]*$`)

// ValidateServiceName checks name against the well-known bus name rules:
// at most 255 characters, at least two dot separated elements, no element
// starting with a digit.
func ValidateServiceName(name string) error {
	if name == "" {
		return errors.New("service name is empty")
	}
	if len(name) > 255 {
		return errors.New("service name is longer than 255 characters")
	}
	if strings.HasPrefix(name, ":") {
		return errors.New("service name must not be a unique name")
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return errors.New("service name must have at least two elements")
	}
	for _, p := range parts {
		if !busNameElement.MatchString(p) {
			return errors.New("service name element " + `"` + p + `"` + " is invalid")
		}
	}
	return nil
}

// ValidNCName reports whether s is an XML name without a colon, usable as
// an unprefixed element or attribute name.
func ValidNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i == 0:
			return false
		case r == '-' || r == '.' || unicode.IsDigit(r):
		case unicode.In(r, unicode.Mn, unicode.Mc):
		default:
			return false
		}
	}
	return true
}

// ValidateAttrName checks that name can be written as a plain attribute.
// Namespace declarations are not attributes.
func ValidateAttrName(name string) error {
	if !ValidNCName(name) {
		return errors.New("attribute name " + `"` + name + `"` + " is not a valid XML name")
	}
	if name == "xmlns" {
		return errors.New("attribute name xmlns is reserved")
	}
	return nil
}
