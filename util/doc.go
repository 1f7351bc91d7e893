// Package util holds small parsing and formatting helpers shared across the
// service, such as human-readable size strings and secret masking for logs.
package util
