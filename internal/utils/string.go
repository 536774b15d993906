package utils

import (
	"strconv"
	"strings"
)

// CreateRankList creates a slice of ranks based on position.
// The rank starts at 1 for the first item and increments for subsequent items.
func CreateRankList(count int) []uint16 {
	if count <= 0 {
		return []uint16{}
	}
	ranks := make([]uint16, count)
	for i := 0; i < count; i++ {
		ranks[i] = uint16(i + 1)
	}
	return ranks
}

// FormatCount renders n with thousands separators, e.g. 1234567 -> "1,234,567".
func FormatCount(n int) string {
	s := strconv.Itoa(n)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}

	var b strings.Builder
	b.WriteString(sign)
	head := len(s) % 3
	if head == 0 {
		head = 3
	}
	b.WriteString(s[:head])
	for i := head; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
