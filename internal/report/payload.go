package report

// Upstream endpoints wrap item lists in one of several conventional shapes.
// The fallback order is fixed: bare array, then results, items, data.

// ExtractItems pulls the item list out of a decoded payload, returning an
// empty slice when no recognized shape matches.
func ExtractItems(payload any) []any {
	items, _ := ExtractPage(payload)
	return items
}

// ExtractPage behaves like ExtractItems and additionally surfaces the
// paginated listing's next-page link when present.
func ExtractPage(payload any) ([]any, string) {
	if arr, ok := payload.([]any); ok {
		return arr, ""
	}
	obj, ok := AsMap(payload)
	if !ok {
		return []any{}, ""
	}

	items := []any{}
	for _, key := range []string{"results", "items", "data"} {
		if arr, ok := obj[key].([]any); ok {
			items = arr
			break
		}
	}
	next, _ := obj["next"].(string)
	return items, next
}
