package gpx

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sstent/stravasync/internal/strava"
)

var (
	slugStrip      = regexp.MustCompile(`[#'",\-/\\]`)
	slugWhitespace = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// Slugify makes val usable in a filename: lower case, punctuation removed,
// whitespace runs replaced by sep
func Slugify(val, sep string) string {
	slug := strings.ToLower(val)
	slug = slugStrip.ReplaceAllString(slug, "")
	return slugWhitespace.ReplaceAllString(slug, sep)
}

// Filename returns the cache filename of an activity's GPX track,
// {YYYYMMDD}_{id}_{slug}.gpx with the date taken from the local start time
func Filename(activity strava.ActivitySummary) string {
	date := activity.StartDateLocal
	if len(date) > 10 {
		date = date[:10]
	}
	date = strings.ReplaceAll(date, "-", "")

	return fmt.Sprintf("%s_%d_%s.gpx", date, activity.ID, Slugify(activity.Name, "_"))
}
