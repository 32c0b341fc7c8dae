// Package util provides small helpers shared by the grant engine packages:
// scope string handling, redirect host classification and safe truncation of
// client supplied values before they are logged.
package util
