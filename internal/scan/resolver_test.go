package scan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticChecker map[string]bool

func (c staticChecker) Exists(_ context.Context, code string) (bool, error) {
	return c[code], nil
}

func TestResolveNormalisesBarcode(t *testing.T) {
	resolver := NewItemCodeResolver(staticChecker{"SKU-001": true})

	code, err := resolver.Resolve(context.Background(), "  sku-001 ")
	require.NoError(t, err)
	require.Equal(t, "SKU-001", code)
}

func TestResolveRejectsUnknownOrEmpty(t *testing.T) {
	resolver := NewItemCodeResolver(staticChecker{})

	_, err := resolver.Resolve(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrUnknownBarcode)

	_, err = resolver.Resolve(context.Background(), "   ")
	require.ErrorIs(t, err, ErrUnknownBarcode)
}
