// Package routing compiles AMQP topic binding patterns into matchers.
//
// A pattern is a list of words separated by ".". Two words are special:
//   - "*" matches exactly one non-empty word
//   - "#" matches zero or more words
//
// Every other character is matched literally and the whole routing key must
// match, not a substring of it.
//
// Basic Usage:
//
//	m, err := routing.Compile("orders.*.created")
//	if err != nil {
//		return err
//	}
//	m.Matches("orders.eu.created")      // true
//	m.Matches("orders.eu.west.created") // false
//
// Matchers hold no mutable state and are safe for concurrent use.
package routing
