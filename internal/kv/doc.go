// Package kv provides the durable key-value store backing all engagement
// state. Keys are dot-separated composite keys where the leading segment
// is the project partition; prefix listing over that partition replaces
// range scans.
package kv
