package textsplit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty input", "", 10, 2, nil},
		{"shorter than size", "hello", 10, 2, []string{"hello"}},
		{"exact size", "abcdefghij", 10, 2, []string{"abcdefghij"}},
		{"no overlap", "abcdefghij", 5, 0, []string{"abcde", "fghij"}},
		{"with overlap", "abcdefghij", 4, 2, []string{"abcd", "cdef", "efgh", "ghij"}},
		{"zero size", "abc", 0, 0, nil},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Split(tc.text, tc.size, tc.overlap))
		})
	}
}

func TestSplit_OverlapClamped(t *testing.T) {
	t.Parallel()

	// overlap >= size would never advance; it clamps to size/2 instead.
	chunks := Split(strings.Repeat("x", 20), 4, 4)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 4)
	}
}

func TestSplit_LongDocumentChunkCount(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 5000)
	chunks := Split(text, 1000, 200)

	assert.GreaterOrEqual(t, len(chunks), 5)
	assert.LessOrEqual(t, len(chunks), 7)
	for i := 1; i < len(chunks); i++ {
		// Each chunk starts 800 runes after the previous one.
		assert.Equal(t, chunks[i-1][800:], chunks[i][:len(chunks[i-1])-800])
	}
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("gophers herd tokens carefully ", 100)
	first := Split(text, 300, 60)
	second := Split(text, 300, 60)
	assert.Equal(t, first, second)
}

func TestSplit_MultibyteRunes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("日本語テキスト", 10)
	chunks := Split(text, 7, 2)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, len([]rune(c)) <= 7)
	}
	// Reassembling without the overlap recovers the original text.
	var b strings.Builder
	b.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		runes := []rune(c)
		b.WriteString(string(runes[2:]))
	}
	assert.Equal(t, text, b.String())
}
