package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	require.Equal(t, "Go Night", Text("  <b>Go Night</b> "))
	require.Equal(t, "", Text("<script>alert(1)</script>"))
}

func TestHTML(t *testing.T) {
	out := HTML(`<p onclick="x()">Bring a <strong>laptop</strong></p><script>alert(1)</script>`)
	require.Contains(t, out, "<strong>laptop</strong>")
	require.NotContains(t, out, "onclick")
	require.NotContains(t, out, "<script>")
}
