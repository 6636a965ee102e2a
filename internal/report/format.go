package report

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// brasilia is the display time zone for report timestamps. Falls back to a
// fixed UTC-3 offset when the tz database is unavailable.
var brasilia = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}()

// FormatTimestamp renders a timestamp in Brasília time.
func FormatTimestamp(t time.Time, lang Lang) string {
	t = t.In(brasilia)
	if lang == LangEN {
		return t.Format("2006-01-02 15:04 MST")
	}
	return t.Format("02/01/2006 15:04 MST")
}

// FormatDate renders a date in Brasília time.
func FormatDate(t time.Time, lang Lang) string {
	t = t.In(brasilia)
	if lang == LangEN {
		return t.Format("2006-01-02")
	}
	return t.Format("02/01/2006")
}

// FormatArea renders an area in hectares. Below 0.01 ha the hectare figure
// would read as zero, so the primary unit switches to square meters with
// the hectare equivalent alongside.
func FormatArea(ha float64, lang Lang) string {
	var s string
	if ha < 0.01 {
		s = fmt.Sprintf("%.0f m² (%.4f ha)", ha*10000, ha)
	} else {
		s = fmt.Sprintf("%.2f ha", ha)
	}
	if lang == LangPT {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

// FormatScore renders the aggregate score.
func FormatScore(score float64, lang Lang) string {
	s := fmt.Sprintf("%.1f / 100", score)
	if lang == LangPT {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

// FormatCoord renders one coordinate pair with report precision. Decimal
// points stay anglo in both languages so the pair separator is unambiguous.
func FormatCoord(lat, lon float64) string {
	return fmt.Sprintf("%.5f, %.5f", lat, lon)
}

// Filename builds the download name for a report PDF from the property and
// plot names. Both parts are sanitized and truncated; when neither survives,
// a generic name is used. The timestamp renders in Brasília time.
func Filename(propertyName, plotName string, issued time.Time) string {
	ts := issued.In(brasilia).Format("20060102_150405")
	farm := safeName(propertyName)
	plot := safeName(plotName)
	if farm == "" && plot == "" {
		return fmt.Sprintf("GreenGate_Report_%s.pdf", ts)
	}
	if farm == "" {
		farm = "Report"
	}
	if plot == "" {
		plot = "Area"
	}
	return fmt.Sprintf("GreenGate_%s_%s_%s.pdf", farm, plot, ts)
}

// safeName keeps letters, digits, hyphens, and underscores, turns spaces
// into underscores, and caps the result at 20 characters.
func safeName(s string) string {
	var out []rune
	for _, r := range s {
		switch {
		case r == ' ':
			out = append(out, '_')
		case r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			out = append(out, r)
		}
	}
	if len(out) > 20 {
		out = out[:20]
	}
	return string(out)
}
