package structurer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// 15-char GSTIN: state code, PAN, entity code, default "Z", checksum.
	gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][0-9A-Z]Z[0-9A-Z]$`)

	moneyJunk = strings.NewReplacer(
		",", "", " ", "",
		"₹", "", "$", "", "€", "", "£", "",
		"Rs.", "", "Rs", "", "INR", "", "inr", "",
	)
)

// ParseMoney converts a printed amount into a float. It tolerates
// thousands separators (Western and Indian grouping), currency symbols
// and Rs/INR prefixes. A malformed token resolves to 0.0 with ok=false
// so callers can record a warning instead of aborting.
func ParseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	cleaned := strings.TrimSpace(moneyJunk.Replace(s))
	neg := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		neg = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2/1/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"2006/01/02",
}

// NormalizeDate parses a printed date into YYYY-MM-DD. Day-first
// layouts are preferred, matching Indian invoice conventions. Returns
// "" with ok=false when no layout matches.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// ValidGSTIN checks the fixed 15-character GST tax-ID shape. A mismatch
// is a review warning, never a hard failure.
func ValidGSTIN(s string) bool {
	return gstinPattern.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}

func warnf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
