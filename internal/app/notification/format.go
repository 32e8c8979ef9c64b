package notification

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

type interval struct {
	name    string
	seconds int64
}

var intervals = []interval{
	{"year", 31556952},
	{"month", 2629746},
	{"week", 604800},
	{"day", 86400},
	{"hour", 3600},
	{"minute", 60},
	{"second", 1},
}

// DisplayDuration formats seconds with the two largest non-zero units,
// e.g. "1 hour, 5 minutes".
func DisplayDuration(seconds int64) string {
	return spell(seconds, 2, true)
}

// Timespan formats the distance between two timestamps with up to three
// units. Seconds are dropped from spans over a minute unless showSeconds.
func Timespan(ts1, ts2 int64, showSeconds bool) string {
	diff := ts1 - ts2
	if diff < 0 {
		diff = -diff
	}
	return spell(diff, 3, showSeconds || diff <= 60)
}

func spell(seconds int64, granularity int, showSeconds bool) string {
	if seconds <= 0 {
		return "0 seconds"
	}
	var parts []string
	for _, iv := range intervals {
		value := seconds / iv.seconds
		if value == 0 {
			continue
		}
		seconds -= value * iv.seconds
		if iv.seconds == 1 && !showSeconds {
			continue
		}
		name := iv.name
		if value != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", value, name))
	}
	if len(parts) > granularity {
		parts = parts[:granularity]
	}
	if len(parts) == 0 {
		return "0 minutes"
	}
	return strings.Join(parts, ", ")
}

// Date formats ts as "Sun 21 Apr 2024, 15:08:12".
func Date(ts int64, loc *time.Location) string {
	return time.Unix(ts, 0).In(loc).Format("Mon 02 Jan 2006, 15:04:05")
}

// ShortDate formats ts as "Sun 21 Apr 15:08".
func ShortDate(ts int64, loc *time.Location) string {
	return time.Unix(ts, 0).In(loc).Format("Mon 02 Jan 15:04")
}

// DateRange formats the range between two timestamps. The second one is
// shortened to the time of day when both fall on the same day.
func DateRange(ts1, ts2 int64, short bool, sep string, loc *time.Location) string {
	t1 := time.Unix(ts1, 0).In(loc)
	t2 := time.Unix(ts2, 0).In(loc)
	sameDay := t1.Format("20060102") == t2.Format("20060102")

	switch {
	case sameDay && short:
		return ShortDate(ts1, loc) + sep + t2.Format("15:04")
	case sameDay:
		return Date(ts1, loc) + sep + t2.Format("15:04:05")
	case short:
		return ShortDate(ts1, loc) + sep + ShortDate(ts2, loc)
	default:
		return Date(ts1, loc) + sep + Date(ts2, loc)
	}
}

var (
	versionSuffix = regexp.MustCompile(`(?i)remaster|extended|original mix|remix|original soundtrack|radio( |-)edit|\(feat\.|( \(.*version\))|( - .*version)`)
	versionStrip  = regexp.MustCompile(`(?i)( - (\d*)( )*remaster$)|( - (\d*)( )*remastered( version)*( \d*)*.*$)|( \((\d*)( )*remaster\)$)|( - (\d+) - remaster$)|( - extended$)|( - extended mix$)|( - (.*); extended mix$)|( - extended version$)|( - (.*) remix$)|( - remix$)|( - remixed by .*$)|( - original mix$)|( - .*original soundtrack$)|( - .*radio( |-)edit$)|( \(feat\. .*\)$)|( \(\d+.*Remaster.*\)$)|( \(.*Version\))|( - .*version)`)
)

// SearchURLs returns the Apple Music search and Genius lyrics search URLs
// for a track. Version suffixes are stripped from the Genius query.
func SearchURLs(artist, track string) (apple, genius string) {
	query := artist + " " + track
	lyrics := query
	if versionSuffix.MatchString(lyrics) {
		lyrics = versionStrip.ReplaceAllString(lyrics, "")
	}
	apple = "https://music.apple.com/pl/search?term=" + url.PathEscape(query)
	genius = "https://genius.com/search?q=" + url.QueryEscape(lyrics)
	return apple, genius
}
