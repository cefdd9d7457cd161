// Package rotation decides when the Tor identity is rotated and verifies
// that a rotation changed the externally observed address.
//
// A Policy counts crawl requests. When the count exceeds the quota it asks
// the identity controller for a new circuit and probes the external
// address, retrying up to a bounded number of attempts. Mode controls what
// happens when the address does not change:
//
//   - ModeOff accepts the first attempt without verification.
//   - ModeAdvisory retries, and logs a warning when attempts run out.
//   - ModeStrict retries, and fails with ErrRotationExhausted when
//     attempts run out.
package rotation
