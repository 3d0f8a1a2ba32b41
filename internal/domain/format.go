package domain

import "time"

// DefaultDisplayZone is the zone payment times are shown in.
const DefaultDisplayZone = "Asia/Kolkata"

const (
	layoutWithYear = "02 Jan 2006, 03:04 pm"
	layoutShort    = "02 Jan, 03:04 pm"
)

// LoadDisplayLocation resolves a zone name. Without tzdata the default zone
// falls back to a fixed +05:30 offset, any other zone to UTC.
func LoadDisplayLocation(name string) *time.Location {
	if name == "" {
		name = DefaultDisplayZone
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == DefaultDisplayZone {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return time.UTC
}

// FormatLocalTime formats t in loc as "18 Oct 2026, 04:34 pm", or without the
// year when withYear is false.
func FormatLocalTime(t time.Time, loc *time.Location, withYear bool) string {
	if loc == nil {
		loc = time.UTC
	}
	if withYear {
		return t.In(loc).Format(layoutWithYear)
	}
	return t.In(loc).Format(layoutShort)
}
