// Package cache provides the persistent audio segment cache. Entries are
// keyed by a content fingerprint of the synthesis inputs, stored one file per
// entry with an index that survives restarts.
package cache
