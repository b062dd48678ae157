package telegram

import (
	"fmt"
	"html"
	"strings"
	"time"

	"grillo-telebot/internal/grillo"
)

const maxBookingsShown = 5

// formatDuration truncates to whole hours and minutes: 3661s is "1h 1m".
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
}

func renderStatus(loc *grillo.Location, tz *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Status for %s</b>\n\n", html.EscapeString(loc.Name))

	if len(loc.People) == 0 {
		b.WriteString("👥 No one is currently in the lab.\n")
	} else {
		b.WriteString("👥 <b>People in lab:</b>\n")
		for _, p := range loc.People {
			fmt.Fprintf(&b, "  • %s\n", html.EscapeString(orUnknown(p.Name)))
		}
	}

	if len(loc.Bookings) > 0 {
		b.WriteString("\n📅 <b>Upcoming bookings:</b>\n")
		for i, bk := range loc.Bookings {
			if i == maxBookingsShown {
				break
			}
			fmt.Fprintf(&b, "  • %s - %s\n",
				bk.Start().In(tz).Format("Mon 15:04"),
				html.EscapeString(orUnknown(bk.UserName)))
		}
	}
	return b.String()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
