// Package redis provides a Redis implementation of the storage interfaces.
//
// Records are JSON documents under a configurable key prefix and expire with the code
// or token they hold, plus the clock-skew grace period. Index sets link refresh tokens
// to their access tokens, families to their refresh tokens and principal/client pairs
// to everything issued to them, so revocation never scans the keyspace.
//
// Code redemption, refresh token exchange and revocation run as Lua scripts, which
// makes them atomic across any number of server instances sharing one Redis. The
// exchange script validates the presented refresh token, writes its successors and
// revokes it in one step, so a failed exchange leaves it usable. Scripts derive some
// keys from the prefix; with Redis Cluster the prefix must carry a hash tag such as
// "{oauth}:" to keep every key in one slot.
//
//	store, err := redis.New(redis.Config{Address: "localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package redis
