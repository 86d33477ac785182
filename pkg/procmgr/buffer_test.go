package procmgr

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTailBuffer(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		writes      []string
		want        string
		wantDropped int64
	}{
		{
			name:   "under limit",
			limit:  16,
			writes: []string{"hello ", "world"},
			want:   "hello world",
		},
		{
			name:        "overflow keeps tail",
			limit:       8,
			writes:      []string{"abcdef", "ghijkl"},
			want:        "efghijkl",
			wantDropped: 4,
		},
		{
			name:        "single write larger than limit",
			limit:       4,
			writes:      []string{"ab", "0123456789"},
			want:        "6789",
			wantDropped: 8,
		},
		{
			name:        "trim never splits a multi-byte rune",
			limit:       5,
			writes:      []string{"€a", "bc"},
			want:        "abc",
			wantDropped: 3,
		},
		{
			name:        "large write starting mid-rune",
			limit:       4,
			writes:      []string{"€€"},
			want:        "€",
			wantDropped: 3,
		},
		{
			name:   "unbounded",
			limit:  0,
			writes: []string{strings.Repeat("z", 100)},
			want:   strings.Repeat("z", 100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewTailBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, b.String())
			assert.True(t, utf8.ValidString(b.String()))
			assert.Equal(t, tt.wantDropped, b.Dropped())
		})
	}
}
