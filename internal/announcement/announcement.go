// Package announcement extracts the meetup number and date from an HTML
// mail export. Extraction is lenient: anything it cannot read falls back to
// number 0 and today's date, and the result says so.
package announcement

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/starford/meetupwiki/internal/apperr"
)

// Kind tells whether an Announcement was read from its source or defaulted.
type Kind int

const (
	KindParsed Kind = iota
	KindDefaulted
)

func (k Kind) String() string {
	if k == KindParsed {
		return "parsed"
	}
	return "defaulted"
}

// Announcement is the (number, date) pair read from one mail export.
type Announcement struct {
	Number    int       `json:"number"`
	Date      time.Time `json:"date"`
	SourceURI string    `json:"source_uri"`
	Kind      Kind      `json:"kind"`
	// Err holds the cause when Kind is KindDefaulted. It wraps
	// apperr.ErrAnnouncementParse.
	Err error `json:"-"`
}

// Defaulted reports whether any field fell back to its default.
func (a Announcement) Defaulted() bool {
	return a.Kind == KindDefaulted
}

// WikiDate formats Date the way the wiki shows it (2006/01/02).
func (a Announcement) WikiDate() string {
	return a.Date.Format("2006/01/02")
}

var (
	titleRe = regexp.MustCompile(`#(\d+) \((.*)\)`)
	ymdRe   = regexp.MustCompile(`(\d{4})\s*[/\-.年]\s*(\d{1,2})\s*[/\-.月]\s*(\d{1,2})`)
)

var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Mon, 2 Jan 2006",
	"Mon, Jan 2, 2006",
	"20060102",
}

// FromTitle reads the announcement out of a document title such as
// "Kyoto.rb Meetup #15 (2014/03/08)". now supplies the default date.
func FromTitle(title, sourceURI string, now time.Time) Announcement {
	a := Announcement{
		SourceURI: sourceURI,
		Date:      today(now),
		Kind:      KindParsed,
	}

	m := titleRe.FindStringSubmatch(width.Fold.String(title))
	if m == nil {
		a.Kind = KindDefaulted
		a.Err = fmt.Errorf("%w: title %q has no \"#<number> (<date>)\"", apperr.ErrAnnouncementParse, title)
		return a
	}

	var errs []string
	if n, err := strconv.Atoi(m[1]); err == nil {
		a.Number = n
	} else {
		errs = append(errs, fmt.Sprintf("number %q: %v", m[1], err))
	}
	if d, err := parseDate(m[2], now.Location()); err == nil {
		a.Date = d
	} else {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		a.Kind = KindDefaulted
		a.Err = fmt.Errorf("%w: %s", apperr.ErrAnnouncementParse, strings.Join(errs, "; "))
	}
	return a
}

// Defaults returns the fallback announcement for a source that could not be
// read at all.
func Defaults(sourceURI string, now time.Time, cause error) Announcement {
	return Announcement{
		SourceURI: sourceURI,
		Date:      today(now),
		Kind:      KindDefaulted,
		Err:       fmt.Errorf("%w: %v", apperr.ErrAnnouncementParse, cause),
	}
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if m := ymdRe.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
		if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
			return time.Time{}, fmt.Errorf("date %q: out of range", s)
		}
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q: unrecognised format", s)
}

func today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
