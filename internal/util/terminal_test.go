package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateText(t *testing.T) {
	require.Equal(t, "Algebra", TruncateText("Algebra", 10))
	require.Equal(t, "Alge…", TruncateText("Algebra II", 5))
	require.Equal(t, "Cálc…", TruncateText("Cálculo integral", 5))
	require.Equal(t, "anything", TruncateText("anything", 0))
}

func TestMakeHyperlink(t *testing.T) {
	require.Equal(t, "\033]8;;https://x.test\aopen\033]8;;\a", MakeHyperlink("https://x.test", "open"))
	require.Contains(t, MakeHyperlink("https://x.test", ""), "\ahttps://x.test\033")
}
