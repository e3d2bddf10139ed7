package discord

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/pscheid92/livewatch/internal/domain"
)

func TestFormatMessage(t *testing.T) {
	startedAt := time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)
	lastLive := time.Date(2024, 5, 1, 21, 5, 0, 0, time.UTC)

	tests := []struct {
		name string
		n    domain.Notification
	}{
		{
			name: "went_live",
			n: domain.Notification{
				Kind:  domain.NotifyWentLive,
				Login: "alice",
				Record: domain.ChannelRecord{
					ChannelID:    "42",
					DisplayName:  "Alice",
					IsLive:       true,
					StartedAt:    startedAt,
					Title:        "Any% speedrun",
					CategoryName: "Celeste",
				},
			},
		},
		{
			name: "went_live_untitled",
			n: domain.Notification{
				Kind:  domain.NotifyWentLive,
				Login: "alice",
				Record: domain.ChannelRecord{
					DisplayName: "Alice",
					IsLive:      true,
					// offsets are rendered in UTC
					StartedAt: startedAt.In(time.FixedZone("CEST", 2*60*60)),
				},
			},
		},
		{
			name: "went_offline",
			n: domain.Notification{
				Kind:   domain.NotifyWentOffline,
				Login:  "alice",
				Record: domain.ChannelRecord{DisplayName: "Alice", LastLive: lastLive},
			},
		},
		{
			name: "went_offline_unnamed",
			n: domain.Notification{
				Kind:  domain.NotifyWentOffline,
				Login: "bob",
			},
		},
		{
			name: "test_message",
			n:    testNotification(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		},
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.Assert(t, tt.name, []byte(FormatMessage(tt.n)))
		})
	}
}
