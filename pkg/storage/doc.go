// Package storage defines the persistence contract of the engine.
// Implementations have to follow these rules:
//   - return ErrNotFound if a method looks for one exact item and it does not exist
//   - return empty slices for list methods without matches, not an error
//   - writes handed to a Batch become visible only after Flush
package storage
