// Package server hosts the Fiber HTTP service that mirrors a directory of
// command-package tarballs as an npm-compatible registry. Developers point
// Registry at it to iterate on commands offline, and tests use it as the
// upstream for the package store. Keep exports narrow and accept explicit
// dependencies.
package server
