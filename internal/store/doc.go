// Package store declares the persistence errors shared by run stores and
// result archives, plus archive composition helpers. Implementations live in
// internal/storage; this package must not import database drivers or
// concrete clients.
package store
