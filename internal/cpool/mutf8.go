package cpool

import "unicode/utf8"

// encodeMUTF8 converts a Go string to the modified UTF-8 form stored in
// CONSTANT_Utf8 entries: NUL is two bytes and supplementary characters are
// surrogate pairs.
func encodeMUTF8(s string) string {
	plain := true
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0xf0 {
			plain = false
			break
		}
	}
	if plain && utf8.ValidString(s) {
		return s
	}

	out := make([]byte, 0, len(s)+8)
	for _, r := range s {
		switch {
		case r == 0:
			out = append(out, 0xc0, 0x80)
		case r >= 0x10000:
			r -= 0x10000
			out = appendUnit(out, 0xd800+(r>>10))
			out = appendUnit(out, 0xdc00+(r&0x3ff))
		default:
			out = utf8.AppendRune(out, r)
		}
	}
	return string(out)
}

func appendUnit(out []byte, u rune) []byte {
	return append(out, byte(0xe0|u>>12), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
}

// decodeMUTF8 converts stored modified UTF-8 back to a Go string, tolerating
// surrogate pairs and the two-byte NUL.
func decodeMUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var units []rune
	b := []byte(s)
	for i := 0; i < len(b); {
		x := b[i]
		switch {
		case x < 0x80:
			units = append(units, rune(x))
			i++
		case x&0xe0 == 0xc0 && i+1 < len(b):
			units = append(units, rune(x&0x1f)<<6|rune(b[i+1]&0x3f))
			i += 2
		case x&0xf0 == 0xe0 && i+2 < len(b):
			units = append(units, rune(x&0x0f)<<12|rune(b[i+1]&0x3f)<<6|rune(b[i+2]&0x3f))
			i += 3
		default:
			units = append(units, utf8.RuneError)
			i++
		}
	}

	out := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if 0xd800 <= u && u < 0xdc00 && i+1 < len(units) && 0xdc00 <= units[i+1] && units[i+1] < 0xe000 {
			u = 0x10000 + (u-0xd800)<<10 + (units[i+1] - 0xdc00)
			i++
		}
		out = append(out, u)
	}
	return string(out)
}
