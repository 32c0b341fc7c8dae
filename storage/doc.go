// Package storage provides the persistence contracts of the grant engine.
//
// The package defines three interfaces:
//   - ClientStore: registered OAuth clients
//   - CodeStore: short-lived authorization codes with atomic redemption
//   - TokenStore: access and refresh tokens with atomic refresh exchange and
//     cascading revocation
//
// Correctness under concurrency lives entirely in the stores. RedeemAuthorizationCode
// and ExchangeRefreshToken are compare-and-swap operations: of any number of concurrent
// callers presenting the same code or refresh token, exactly one succeeds.
//
// Expiry is evaluated lazily at read time with the clock-skew grace period from the
// security package. Background reclamation of expired records is optional.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development, tests and single instances
//   - storage/redis: Redis storage with Lua scripts for the atomic primitives
//   - storage/sqlstore: SQL storage through gorm (SQLite, PostgreSQL, MySQL)
//   - storage/storagetest: a conformance suite every backend runs in its tests
package storage
