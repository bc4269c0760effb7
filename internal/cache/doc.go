// Package cache defines the disk-backed package store that materializes
// command packages under CacheRoot/<name>@<version>. Installs extract into a
// temporary directory and rename into place only after the manifest
// validates, so a record is never visible half-written. Writers for the same
// key are coalesced in-process and serialized across processes with an OS
// advisory lock on CacheRoot/<name>@<version>.lock.
package cache
