package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterRoundTrip(t *testing.T) {
	t.Parallel()

	f, err := New(1000, 0.01)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		f.AddString(fmt.Sprintf("item-%d", i))
	}

	data, err := f.Encode()
	require.NoError(t, err)

	restored, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, f.Bits(), restored.Bits())
	require.Equal(t, f.HashCount(), restored.HashCount())
	for i := 0; i < 100; i++ {
		require.True(t, restored.TestString(fmt.Sprintf("item-%d", i)))
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	t.Parallel()

	_, err := New(0, 0.01)
	require.Error(t, err)
	_, err = New(10, 0)
	require.Error(t, err)
	_, err = New(10, 1)
	require.Error(t, err)
}

func TestDecodeRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := Decode(nil)
	require.Error(t, err)
}

func TestRebuildCapacity(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint(MinRebuildCapacity), RebuildCapacity(0))
	require.Equal(t, uint(MinRebuildCapacity), RebuildCapacity(50_000))
	require.Equal(t, uint(300_000), RebuildCapacity(150_000))
}
