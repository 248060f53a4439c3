package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a numeric (major, minor, patch, build) tuple.
type Version [4]int

// ParseVersion parses a dotted server version. Missing components are 0,
// components past the fourth are ignored, and a non-numeric suffix on a
// component ("5-rc1") is dropped. The first component must be numeric.
func ParseVersion(s string) (Version, error) {
	var v Version
	s = strings.TrimSpace(s)
	if s == "" {
		return v, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}
	for i, part := range strings.SplitN(s, ".", len(v)+1) {
		if i == len(v) {
			break
		}
		n, ok := leadingInt(part)
		if !ok {
			if i == 0 {
				return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
			}
			break
		}
		v[i] = n
	}
	return v, nil
}

// MustParse is ParseVersion for constants.
func MustParse(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Compare returns -1, 0 or +1 ordering v against o numerically.
func (v Version) Compare(o Version) int {
	for i := range v {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	return 0
}

// AtLeast reports v >= o.
func (v Version) AtLeast(o Version) bool {
	return v.Compare(o) >= 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// Compare orders two version strings numerically. Unparseable strings
// compare as 0.0.0.0.
func Compare(a, b string) int {
	va, _ := ParseVersion(a)
	vb, _ := ParseVersion(b)
	return va.Compare(vb)
}
