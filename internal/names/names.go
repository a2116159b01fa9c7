// Package names canonicalizes customer names into the lookup key used to
// match orders across sources.
package names

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/ordermatch/internal/model"
)

// Unknown is the display name given to orders with no usable name fields.
const Unknown = "نامشخص"

// Normalize trims, collapses internal whitespace to single spaces and
// lower-cases a name. Two names identify the same customer iff their
// normalized forms are equal.
func Normalize(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	return cases.Lower(language.Und).String(collapsed)
}

// Display returns "first last" from billing, falling back to shipping, or
// Unknown when neither carries a name.
func Display(o model.OrderRecord) string {
	if n := joinName(o.Billing); n != "" {
		return n
	}
	if n := joinName(o.Shipping); n != "" {
		return n
	}
	return Unknown
}

// Key returns the normalized display name of an order.
func Key(o model.OrderRecord) string {
	return Normalize(Display(o))
}

// IsUnknown reports whether name is the Unknown sentinel.
func IsUnknown(name string) bool {
	return Normalize(name) == Normalize(Unknown)
}

func joinName(c model.Contact) string {
	first := strings.TrimSpace(c.FirstName)
	last := strings.TrimSpace(c.LastName)
	if first == "" && last == "" {
		return ""
	}
	return strings.TrimSpace(first + " " + last)
}
