package ranking

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// eokUnit is one 억 expressed in 만 (10k) units.
const eokUnit = 10000

var (
	eokExpr = regexp.MustCompile(`^(\d+)억(\d+)?(?:만)?(?:원)?$`)
	manExpr = regexp.MustCompile(`^(\d+)(?:만)?(?:원)?$`)
)

// ParsePrice converts a localized price string ("17억", "16억5000", "5000만원") into 10k units.
// The second return value is false when the text matches none of the supported forms.
func ParsePrice(text string) (int64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', ' ', '\t', '\u00a0':
			return -1
		}
		return r
	}, strings.TrimSpace(text))
	if cleaned == "" {
		return 0, false
	}

	if m := eokExpr.FindStringSubmatch(cleaned); m != nil {
		eok, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		var rest int64
		if m[2] != "" {
			rest, err = strconv.ParseInt(m[2], 10, 64)
			if err != nil {
				return 0, false
			}
		}
		if eok > (math.MaxInt64-rest)/eokUnit {
			return 0, false
		}
		return eok*eokUnit + rest, true
	}

	if m := manExpr.FindStringSubmatch(cleaned); m != nil {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	return 0, false
}

// Normalizer wraps ParsePrice and logs inputs it cannot understand.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer builds a normalizer; a nil logger silences warnings.
func NewNormalizer(logger *slog.Logger) Normalizer {
	return Normalizer{logger: logger}
}

// Normalize returns the price in 10k units, or 0 when unknown.
func (n Normalizer) Normalize(text string) int64 {
	v, ok := ParsePrice(text)
	if !ok {
		if n.logger != nil {
			n.logger.Warn("unparseable price", "text", text)
		}
		return 0
	}
	return v
}
