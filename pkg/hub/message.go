// Package hub fans encoded JSON messages out to websocket and in-process
// subscribers. Slow subscribers are dropped rather than allowed to stall
// the sender.
package hub

// Message is one broadcast. Seq counts broadcasts on the hub from 1, so a
// subscriber can tell how many it missed; a sticky replay keeps its
// original Seq.
type Message struct {
	Seq  uint64
	Data []byte
}
