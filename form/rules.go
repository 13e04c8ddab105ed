package form

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailPattern            = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern            = regexp.MustCompile(`^[\d\s\-()]+$`)
	alphanumericPattern     = regexp.MustCompile(`^[a-zA-Z0-9\s]+$`)
	numericPattern          = regexp.MustCompile(`^\d+$`)
	lettersPattern          = regexp.MustCompile(`^[a-zA-ZáéíóúÁÉÍÓÚñÑüÜ\s]+$`)
	lettersAndSpacesPattern = regexp.MustCompile(`^[a-zA-ZáéíóúÁÉÍÓÚñÑüÜ\s\-']+$`)
)

// minPhoneDigits is the fewest digits a phone number may have.
const minPhoneDigits = 7

func or(msg, def string) string {
	if msg == "" {
		return def
	}
	return msg
}

func blank(v string) bool { return strings.TrimSpace(v) == "" }

// optional wraps a format check so blank values pass. Required owns
// emptiness.
func optional(check func(string) bool) func(string) bool {
	return func(v string) bool {
		return blank(v) || check(v)
	}
}

// Required fails on empty or whitespace-only values.
func Required(msg string) Rule {
	return Rule{
		Validate: func(v string) bool { return !blank(v) },
		Message:  or(msg, "Este campo es requerido"),
	}
}

func Email(msg string) Rule {
	return Rule{
		Validate: optional(emailPattern.MatchString),
		Message:  or(msg, "Email inválido"),
	}
}

// MinLength counts characters after trimming surrounding space. A blank value
// fails unless n is zero.
func MinLength(n int, msg string) Rule {
	return Rule{
		Validate: func(v string) bool { return utf8.RuneCountInString(strings.TrimSpace(v)) >= n },
		Message:  or(msg, fmt.Sprintf("Debe tener al menos %d caracteres", n)),
	}
}

func MaxLength(n int, msg string) Rule {
	return Rule{
		Validate: func(v string) bool { return utf8.RuneCountInString(strings.TrimSpace(v)) <= n },
		Message:  or(msg, fmt.Sprintf("Debe tener máximo %d caracteres", n)),
	}
}

// Phone accepts digits with spaces, dashes and parentheses, and at least
// seven digits.
func Phone(msg string) Rule {
	return Rule{
		Validate: optional(func(v string) bool {
			if !phonePattern.MatchString(v) {
				return false
			}
			digits := 0
			for _, r := range v {
				if unicode.IsDigit(r) {
					digits++
				}
			}
			return digits >= minPhoneDigits
		}),
		Message: or(msg, "Teléfono inválido"),
	}
}

// Alphanumeric accepts ASCII letters, digits and whitespace.
func Alphanumeric(msg string) Rule {
	return Rule{
		Validate: optional(alphanumericPattern.MatchString),
		Message:  or(msg, "Solo se permiten letras y números"),
	}
}

func Numeric(msg string) Rule {
	return Rule{
		Validate: optional(numericPattern.MatchString),
		Message:  or(msg, "Solo se permiten números"),
	}
}

// LettersOnly accepts letters, including Spanish accents and ñ, and spaces.
func LettersOnly(msg string) Rule {
	return Rule{
		Validate: optional(lettersPattern.MatchString),
		Message:  or(msg, "Solo se permiten letras y espacios"),
	}
}

// LettersAndSpaces is LettersOnly that also allows hyphens and apostrophes,
// as found in names.
func LettersAndSpaces(msg string) Rule {
	return Rule{
		Validate: optional(lettersAndSpacesPattern.MatchString),
		Message:  or(msg, "Solo se permiten letras y espacios"),
	}
}
