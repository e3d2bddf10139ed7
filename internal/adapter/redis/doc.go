// Package redis holds the optional shared cache layer: a go-redis client guarded
// by a circuit breaker, and the category name cache built on top of it.
package redis
