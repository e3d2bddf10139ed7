// Package app provides the application layer.
//
// Tracker owns the channel registry: every change, whether from an upstream event
// or an admin action, is committed under one mutex as persist, swap, broadcast, notify.
// EventQueue serialises upstream events in arrival order, Subscriptions keeps the
// upstream subscriptions in step with the registry, and Admin orchestrates the
// administrative use cases across them.
package app
