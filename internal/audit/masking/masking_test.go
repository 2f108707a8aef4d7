package masking

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	require.Equal(t, "", MaskSecret("  "))
	require.Equal(t, "****", MaskSecret("1234"))
	require.Equal(t, "****4242", MaskSecret("4242424242424242"))
}

func TestMaskFieldsCopiesInput(t *testing.T) {
	in := map[string]any{"reference": "ACCT-000123456", "amount": "10.00"}
	out := MaskFields(in, "reference", "missing")

	require.Equal(t, "****3456", out["reference"])
	require.Equal(t, "10.00", out["amount"])
	require.Equal(t, "ACCT-000123456", in["reference"])
}
