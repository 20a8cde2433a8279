// ABOUTME: High-level snapsync player library API
// ABOUTME: Entry point for applications that play synchronized streams
// Package player connects to a snapsync server and plays its stream in
// lockstep with every other client.
//
// Example:
//
//	p, err := player.New(player.Config{
//	    ServerAddr: "localhost:1704",
//	    PlayerName: "Kitchen",
//	    Volume:     80,
//	})
//	err = p.Connect()
//	defer p.Close()
//
// Audio can also be fed without a server by calling StartStream and
// WriteChunk directly; each chunk header carries the server time at which
// the chunk must be heard.
package player
