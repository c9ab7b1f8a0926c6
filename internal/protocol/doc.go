// Package protocol implements the TLV media framing used between the service and the
// telephony bridge. It parses inbound packets and builds outbound audio packets for
// playback, using the same header layout in both directions.
package protocol
