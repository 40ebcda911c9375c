// Package server carries LDAP and Kerberos messages between sockets and
// handlers.
//
// Stream connections each own one decode session: LDAP over plain TCP or TLS
// is self-delimiting BER, Kerberos over TCP is length-prefixed. Kerberos
// datagrams are decoded one message per packet. A decode failure closes only
// the connection it happened on; LDAP clients receive a Notice of
// Disconnection first.
package server
