// Package util contains any functions used across the application that don't match
// any other package
package util

import gonanoid "github.com/matoous/go-nanoid/v2"

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandStr returns a random string of n letters. It's meant for short lived
// identifiers like request IDs, never for anything stored
func RandStr(n int) string {
	return gonanoid.MustGenerate(charset, n)
}
