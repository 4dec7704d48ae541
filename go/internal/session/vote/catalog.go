package vote

// catalog is the fixed, ordered deck every participant chooses from.
var catalog = []Value{
	Points(0),
	Points(0.5),
	Points(1),
	Points(2),
	Points(3),
	Points(5),
	Points(8),
	Points(13),
	Points(21),
	Unknown,
	Break,
}

// Catalog returns a copy of the deck in display order.
func Catalog() []Value {
	out := make([]Value, len(catalog))
	copy(out, catalog)
	return out
}

// InCatalog reports whether v is one of the selectable cards.
func InCatalog(v Value) bool {
	for _, c := range catalog {
		if c == v {
			return true
		}
	}
	return false
}
