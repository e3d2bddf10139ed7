package discord

import (
	"fmt"
	"time"

	"github.com/pscheid92/livewatch/internal/domain"
)

const (
	timeLayout        = "2006-01-02 15:04 UTC"
	defaultLiveTitle  = "is live!"
	channelURLPrefix  = "https://twitch.tv/"
	testChannelLogin  = "test_channel"
	testDisplayName   = "Test"
	testTitle         = "Hello"
	testCategoryName  = "Demo"
)

// FormatMessage renders the alert text for a liveness edge.
func FormatMessage(n domain.Notification) string {
	name := n.Record.DisplayName
	if name == "" {
		name = n.Login
	}

	switch n.Kind {
	case domain.NotifyWentLive:
		title := n.Record.Title
		if title == "" {
			title = defaultLiveTitle
		}
		return fmt.Sprintf("**%s** went live.\n\n**Title:** %s\n**Game:** %s\n**Live since:** %s\n%s%s",
			name, title, n.Record.CategoryName, formatTime(n.Record.StartedAt), channelURLPrefix, n.Login)
	default:
		return fmt.Sprintf("**%s** went offline at %s.\n%s%s",
			name, formatTime(n.Record.LastLive), channelURLPrefix, n.Login)
	}
}

// testNotification is what the admin "Send Test" button delivers.
func testNotification(now time.Time) domain.Notification {
	return domain.Notification{
		Kind:  domain.NotifyWentLive,
		Login: testChannelLogin,
		Record: domain.ChannelRecord{
			DisplayName:  testDisplayName,
			Title:        testTitle,
			CategoryName: testCategoryName,
			StartedAt:    now,
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
