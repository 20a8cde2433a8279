// ABOUTME: Snapsync wire protocol package
// ABOUTME: Defines protocol messages and WebSocket client
// Package protocol implements the snapsync wire protocol.
//
// Control messages are JSON objects {"type", "payload"}. Audio arrives as
// binary messages: one type byte (4), an 8-byte big-endian server timestamp
// in microseconds, then the encoded payload.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:1704"})
//	err := client.Connect()
//	chunk := <-client.AudioChunks
package protocol
