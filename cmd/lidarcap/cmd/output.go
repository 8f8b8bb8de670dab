package cmd

import (
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// count prints n with thousands separators.
func count(n int64) string {
	return printer.Sprintf("%d", n)
}

// ago prints t relative to now, or "-" when t is unset.
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
