package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokensDropStopWordsAndCase(t *testing.T) {
	got := tokens("The Effects of Climate Change on WHEAT yields")
	require.Equal(t, map[string]bool{
		"effects": true, "climate": true, "change": true, "wheat": true, "yields": true,
	}, got)
}

func TestJaccard(t *testing.T) {
	a := tokens("wheat yields decline warming")
	b := tokens("wheat yields rise cooling")
	require.InDelta(t, 2.0/6.0, jaccard(a, b), 1e-9)
	require.InDelta(t, 1.0, jaccard(a, a), 1e-9)
	require.Zero(t, jaccard(a, map[string]bool{}))
}

func TestYears(t *testing.T) {
	require.Equal(t, []string{"2019", "2021"}, years("between 2019 and 2021 and again 2019"))
	require.Empty(t, years("no dates here, just 42 and 123456"))
}

func TestNumbersSkipYears(t *testing.T) {
	got := numbers("in 2021 yields fell 6.5 percent from 80 tonnes")
	require.Equal(t, []float64{6.5, 80}, got)
}

func TestRelativeDiff(t *testing.T) {
	require.InDelta(t, 0.5, relativeDiff(6, 12), 1e-9)
	require.Zero(t, relativeDiff(7, 7))
	require.InDelta(t, 1.0, relativeDiff(0, 5), 1e-9)

	// Negative magnitudes set the denominator too.
	require.InDelta(t, 0.25, relativeDiff(-8, -6), 1e-9)
	require.InDelta(t, 1.0, relativeDiff(-5, 0), 1e-9)
	require.InDelta(t, 2.0, relativeDiff(-6, 6), 1e-9)
}
