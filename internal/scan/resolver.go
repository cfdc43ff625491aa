// Package scan resolves raw barcode input into item master codes.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBarcode indicates the barcode did not resolve to a known item.
var ErrUnknownBarcode = errors.New("unknown barcode")

// Resolver turns a scanned barcode into an item code.
type Resolver interface {
	Resolve(ctx context.Context, barcode string) (string, error)
}

// ItemChecker verifies that an item code exists in the item master.
type ItemChecker interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// ItemCodeResolver treats the barcode as the item code itself, verified
// against the item master. A barcode map can replace this later without
// touching the session state machines.
type ItemCodeResolver struct {
	items ItemChecker
}

// NewItemCodeResolver constructs the resolver.
func NewItemCodeResolver(items ItemChecker) *ItemCodeResolver {
	return &ItemCodeResolver{items: items}
}

// Resolve normalises the barcode and checks the item master.
func (r *ItemCodeResolver) Resolve(ctx context.Context, barcode string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(barcode))
	if code == "" {
		return "", ErrUnknownBarcode
	}
	ok, err := r.items.Exists(ctx, code)
	if err != nil {
		return "", fmt.Errorf("scan: resolve %q: %w", code, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBarcode, code)
	}
	return code, nil
}
