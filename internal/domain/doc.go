// Package domain holds the channel registry types and the contracts the
// application core uses to reach storage, Twitch, viewers and notifications.
// It contains no I/O.
package domain
