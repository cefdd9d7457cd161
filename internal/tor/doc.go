// Package tor provides Tor connectivity for torcrawler.
//
// Client routes HTTP traffic through a SOCKS5 proxy described by an
// explicit ProxyConfig value. Controller speaks the Tor control protocol
// to authenticate and request a new circuit, and probes the externally
// observed address to verify that a new circuit changed it. EmbeddedTor
// starts a private Tor daemon through tornago when no external daemon is
// available.
package tor
