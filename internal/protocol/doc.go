// Package protocol groups the BER wire layers.
//
// Layering:
// - tlv: tag and length headers, primitive value codecs
// - codec: grammar tables and the resumable decode session
// - frame: length-prefixed delimiting for stream transports
// - encoder: length-first message encoding
package protocol
