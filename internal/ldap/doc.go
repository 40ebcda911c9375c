// Package ldap declares the LDAPv3 message grammars and their encoders.
//
// Every operation has its own grammar, nested under the LDAPMessage envelope
// by its application tag. Search filters refer to themselves for and, or and
// not, so a filter tree of any depth decodes through the same table, bounded
// only by the session's depth limit.
package ldap
