package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpinnerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	spinner := Spinner(true, "transcribing")
	require.True(t, spinner.Enabled())
	time.Sleep(3 * spinnerTick)
	spinner.Stop()
	spinner.Stop()
}

func TestDisabledIndicatorsAcceptWrites(t *testing.T) {
	t.Parallel()

	for _, ind := range []*Indicator{
		Spinner(false, "transcribing"),
		Bytes(false, "uploading", 10),
		Bytes(true, "uploading", 0),
	} {
		require.False(t, ind.Enabled())
		n, err := ind.Write([]byte("12345"))
		require.NoError(t, err)
		require.Equal(t, 5, n)
		ind.Stop()
		ind.Stop()
	}
}

func TestBytesCountsWrites(t *testing.T) {
	t.Parallel()

	bar := Bytes(true, "uploading", 10)
	require.True(t, bar.Enabled())

	n, err := bar.Write([]byte("12345"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.EqualValues(t, 5, bar.bar.State().CurrentNum)
	bar.Stop()
}
