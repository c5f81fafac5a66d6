// Package ordinal renders integers as kanji numerals for page naming.
package ordinal

import (
	"strconv"
	"strings"
)

var (
	digits    = [10]string{"零", "一", "二", "三", "四", "五", "六", "七", "八", "九"}
	positions = [3]string{"", "十", "百"}
)

// Max is the largest value rendered in kanji.
const Max = 999

// Format renders n in kanji: 15 → 十五, 27 → 二十七, 110 → 百十.
// The leading 一 is omitted before 十 and 百. Values outside 0..Max
// are rendered as ASCII decimals.
func Format(n int) string {
	if n == 0 {
		return digits[0]
	}
	if n < 0 || n > Max {
		return strconv.Itoa(n)
	}

	var parts []string
	for p := 0; n > 0; p++ {
		d := n % 10
		n /= 10
		if d == 0 {
			continue
		}
		var s string
		if p == 0 || d > 1 {
			s = digits[d]
		}
		parts = append(parts, s+positions[p])
	}

	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
	}
	return b.String()
}
