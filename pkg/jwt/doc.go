// Package jwt implements HS256 token signing and verification for
// workspace sessions, plus HTTP middleware that authenticates Bearer
// tokens and exposes their claims through the request context.
package jwt
