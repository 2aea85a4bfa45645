package ledger

import "strings"

// categoryHints maps normalized model-provided category tokens to expense
// types. The model is only asked for a best-effort hint, so this covers the
// common vocabulary it tends to emit; anything else lands in misc.
var categoryHints = map[string]ExpenseType{
	"grocery":       TypeGroceries,
	"groceries":     TypeGroceries,
	"supermarket":   TypeGroceries,
	"food":          TypeGroceries,
	"restaurant":    TypeDining,
	"dining":        TypeDining,
	"cafe":          TypeDining,
	"coffee":        TypeDining,
	"takeout":       TypeDining,
	"fast food":     TypeDining,
	"fuel":          TypeTransport,
	"gas":           TypeTransport,
	"parking":       TypeTransport,
	"transit":       TypeTransport,
	"transport":     TypeTransport,
	"taxi":          TypeTransport,
	"utility":       TypeUtilities,
	"utilities":     TypeUtilities,
	"electric":      TypeUtilities,
	"water":         TypeUtilities,
	"internet":      TypeUtilities,
	"phone":         TypeUtilities,
	"pharmacy":      TypeHealth,
	"health":        TypeHealth,
	"medical":       TypeHealth,
	"doctor":        TypeHealth,
	"entertainment": TypeEntertainment,
	"movies":        TypeEntertainment,
	"streaming":     TypeEntertainment,
	"games":         TypeEntertainment,
	"household":     TypeHousehold,
	"home":          TypeHousehold,
	"hardware":      TypeHousehold,
	"furniture":     TypeHousehold,
	"cleaning":      TypeHousehold,
}

// TypeFromHint resolves a model-provided category hint to an expense type.
// Unrecognized or empty hints default to misc.
func TypeFromHint(hint string) ExpenseType {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if t, ok := categoryHints[hint]; ok {
		return t
	}
	return TypeMisc
}
