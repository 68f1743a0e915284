package store

import (
	"strconv"
	"strings"
)

// encodeVector renders a float32 slice in the pgvector text format, e.g.
// "[0.1,0.2,0.3]".
func encodeVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
