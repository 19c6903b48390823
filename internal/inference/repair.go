package inference

import "strconv"

// repairByteToken turns a decoded "<0xHH>" byte-fallback token back into the
// raw byte it stands for. Anything else is returned unchanged.
func repairByteToken(s string) string {
	if len(s) != 6 || s[0] != '<' || s[1] != '0' || s[2] != 'x' || s[5] != '>' {
		return s
	}
	b, err := strconv.ParseUint(s[3:5], 16, 8)
	if err != nil {
		return s
	}
	return string([]byte{byte(b)})
}
