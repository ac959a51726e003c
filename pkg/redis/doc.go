// Package redis wraps go-redis client construction with retrying
// connect logic and a health probe.
package redis
