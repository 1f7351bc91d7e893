// Package resilience provides retry with exponential backoff and a bulkhead
// (counting admission gate) for bounding concurrent operations.
package resilience
