// posemusic turns body movement seen by a camera into MIDI.
//
// Usage:
//
//	posemusic run --midi-port IAC --settings posemusic.json
//	posemusic replay --session latest
//	posemusic report --session latest --html report.html
package main

func main() {
	Execute()
}
