package domain

import "fmt"

// Kind identifies a collection. It doubles as the durable storage key and the
// remote API path segment.
type Kind string

const (
	KindCart     Kind = "cart"
	KindWishlist Kind = "wishlist"
)

// Kinds lists every collection kind in a stable order.
var Kinds = []Kind{KindCart, KindWishlist}

// ParseKind validates s as a collection kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindCart, KindWishlist:
		return k, nil
	default:
		return "", fmt.Errorf("unknown collection kind %q", s)
	}
}

// Quantified reports whether items of this kind carry a quantity.
func (k Kind) Quantified() bool {
	return k == KindCart
}

func (k Kind) String() string {
	return string(k)
}
