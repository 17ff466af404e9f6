package packager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToXHTMLProducesWellFormedMarkup(t *testing.T) {
	t.Parallel()

	got, err := toXHTML(`<p onclick="x()">A &amp; B<br>next&nbsp;line</p><script>evil()</script><hr><o:p>kept</o:p>`, nil)
	require.NoError(t, err)
	require.Equal(t, "<p>A &amp; B<br/>next\u00a0line</p><hr/>kept", got)
}

func TestToXHTMLRewritesAndDropsImages(t *testing.T) {
	t.Parallel()

	rewrite := func(src string) (string, bool) {
		if src == "https://img.example/bad.png" {
			return "", false
		}
		return "../images/image_0001.png", true
	}
	got, err := toXHTML(`<p><img src="https://img.example/a.png" srcset="x 2x"><img src="https://img.example/bad.png" alt="b"></p>`, rewrite)
	require.NoError(t, err)
	require.Equal(t, `<p><img src="../images/image_0001.png" alt=""/></p>`, got)
}

func TestTextParagraphs(t *testing.T) {
	t.Parallel()

	got := textParagraphs("first <line>\nsame block\n\n\nsecond & last\n")
	require.Equal(t, "<p>first &lt;line&gt;<br/>same block</p>\n<p>second &amp; last</p>\n", got)
	require.Empty(t, textParagraphs("\n\n"))
}

func TestMarkupText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "one\ntwo\nthree", markupText(`<p>one</p><p>two<br>three</p><script>x</script>`))
}
