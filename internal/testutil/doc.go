// Package testutil provides fixtures for tests across the module: random values,
// bcrypt-hashed clients, codes, token pairs and form POST helpers.
package testutil
