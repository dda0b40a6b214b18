package human

import (
	"encoding"
	"flag"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	yaml "gopkg.in/yaml.v3"
)

// Bytes represents a number of bytes, parsed from values like "64 KiB", "8Mi"
// or "1.5 MB". Units with an "i" use factors of 1024, others factors of 1000.
// Formatting always uses factors of 1024.
type Bytes uint64

const (
	B Bytes = 1

	KB Bytes = 1000 * B
	MB Bytes = 1000 * KB
	GB Bytes = 1000 * MB

	KiB Bytes = 1024 * B
	MiB Bytes = 1024 * KiB
	GiB Bytes = 1024 * MiB
)

var byteUnits = map[string]Bytes{
	"":    B,
	"b":   B,
	"kb":  KB,
	"k":   KB,
	"mb":  MB,
	"m":   MB,
	"gb":  GB,
	"g":   GB,
	"kib": KiB,
	"ki":  KiB,
	"mib": MiB,
	"mi":  MiB,
	"gib": GiB,
	"gi":  GiB,
}

var formatUnits = [...]struct {
	scale Bytes
	unit  string
}{
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

func ParseBytes(s string) (Bytes, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.' && r != '-' && r != '+'
	})
	if i < 0 {
		i = len(s)
	}
	number, unit := s[:i], strings.TrimSpace(s[i:])

	f, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed byte count: %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid negative byte count: %q", s)
	}
	scale, ok := byteUnits[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("unknown byte unit %q in %q", unit, s)
	}
	return Bytes(math.Floor(f * float64(scale))), nil
}

func (b Bytes) String() string {
	for _, u := range formatUnits {
		if b >= u.scale {
			s := strconv.FormatFloat(float64(b)/float64(u.scale), 'f', 2, 64)
			s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
			return s + " " + u.unit
		}
	}
	return strconv.FormatUint(uint64(b), 10) + " B"
}

// Int converts b to an int, saturating on overflow.
func (b Bytes) Int() int {
	if uint64(b) > math.MaxInt {
		return math.MaxInt
	}
	return int(b)
}

func (b *Bytes) Set(s string) error {
	p, err := ParseBytes(s)
	if err != nil {
		return err
	}
	*b = p
	return nil
}

func (b Bytes) MarshalYAML() (any, error) {
	return b.String(), nil
}

func (b *Bytes) UnmarshalYAML(y *yaml.Node) error {
	var s string
	if err := y.Decode(&s); err != nil {
		return err
	}
	return b.Set(s)
}

func (b Bytes) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Bytes) UnmarshalText(t []byte) error {
	return b.Set(string(t))
}

var (
	_ fmt.Stringer = Bytes(0)

	_ yaml.Marshaler   = Bytes(0)
	_ yaml.Unmarshaler = (*Bytes)(nil)

	_ encoding.TextMarshaler   = Bytes(0)
	_ encoding.TextUnmarshaler = (*Bytes)(nil)

	_ flag.Value = (*Bytes)(nil)
)
