// Package kerberos declares the Kerberos V5 message grammars and encoders.
//
// Kerberos tags every SEQUENCE member explicitly: field n is a constructed
// [n] holding exactly one value. Grammars here are declared as ordered field
// lists; optional fields may be skipped and the builder derives the legal
// successors of each field. Encrypted parts stay opaque.
package kerberos
