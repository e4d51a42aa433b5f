// internal/normalize/normalize.go
package normalize

import (
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Zone is the institution's civil time zone. Every due text on the LMS is
// written in KST, which has no daylight saving, so a fixed offset is exact
// and keeps parsing independent of the host tz database.
var Zone = time.FixedZone("KST", 9*60*60)

// Program-track prefixes the registrar prepends to course names. Checked in
// this order; the first match is stripped. Longer variants come before their
// substrings so e.g. 블렌디드러닝학부 is not half-stripped.
var trackPrefixes = []string{
	"비러닝학부",
	"오프라인학부",
	"원격활용학부",
	"블렌디드러닝학부",
	"온라인학부",
	"비대면학부",
	"대면학부",
}

const maxCourseNameLen = 50

// CleanCourseName reduces a raw LMS course name to a short display name:
// strip the program-track prefix, drop the bracketed course-code suffix,
// and cap the length.
// "온라인학부디지털논리회로[202502-EEC2106-001]박재현" -> "디지털논리회로".
func CleanCourseName(raw string) string {
	cleaned := strings.TrimSpace(raw)
	for _, prefix := range trackPrefixes {
		if strings.HasPrefix(cleaned, prefix) {
			cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, prefix))
			break
		}
	}
	if i := strings.Index(cleaned, "["); i > 0 {
		cleaned = strings.TrimSpace(cleaned[:i])
	}
	if runes := []rune(cleaned); len(runes) > maxCourseNameLen {
		cleaned = string(runes[:maxCourseNameLen])
	}
	return cleaned
}

var (
	dateTimeSec = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)
	dateTimeMin = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`)
)

// ParseDue parses the raw due text of an item into an instant in Zone.
// Three shapes are accepted: "2006-01-02 15:04:05", "2006-01-02 15:04"
// and an ISO-like form with a space or 'T' separator. Anything else means
// the item has no due date; that is reported via ok=false, never an error.
func ParseDue(raw string) (time.Time, bool) {
	norm := CollapseWhitespace(raw)
	if norm == "" {
		return time.Time{}, false
	}

	var (
		t   time.Time
		err error
	)
	switch {
	case dateTimeSec.MatchString(norm):
		t, err = time.ParseInLocation("2006-01-02 15:04:05", norm, Zone)
	case dateTimeMin.MatchString(norm):
		t, err = time.ParseInLocation("2006-01-02 15:04", norm, Zone)
	default:
		if len(norm) == 16 {
			norm += ":00"
		}
		t, err = time.ParseInLocation("2006-01-02T15:04:05", strings.Replace(norm, " ", "T", 1), Zone)
	}
	if err != nil {
		slog.Debug("Unparseable due text, treating as no due date", "raw", raw)
		return time.Time{}, false
	}
	return t, true
}

// CollapseWhitespace trims a scraped text node: NBSP to space, runs of
// whitespace collapsed to one space, outer whitespace removed.
func CollapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
