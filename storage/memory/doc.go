// Package memory provides an in-memory implementation of the storage interfaces.
//
// One sync.RWMutex guards every map, so RedeemAuthorizationCode and
// ExchangeRefreshToken are atomic by construction. Indexes from refresh tokens to the
// access tokens minted from them, and from family ids to refresh tokens, keep
// cascading revocation proportional to the family size.
//
// A background loop removes expired codes and tokens and, after a retention period,
// revoked ones. Expiry is always re-checked at read time, so the loop only reclaims
// memory.
//
// Suitable for development, tests and single-instance deployments. Use storage/redis
// or storage/sqlstore when several instances share state.
//
//	store := memory.New()
//	defer store.Stop()
package memory
