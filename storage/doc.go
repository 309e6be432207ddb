// Package storage defines the persistence contracts for the authorization
// server core: document-style CRUD with insert-time unique-index enforcement
// and background TTL expiry. Implementations signal uniqueness violations
// with DuplicateKeyError and absence with the ErrNotFound sentinels; they do
// not filter expired rows on read, so consumers always re-check ExpireAt.
package storage
