package boltwood

import "bytes"

// ExtractFrames scans buf for complete frames and returns them together with
// the unconsumed remainder. A frame is everything up to and including the
// next terminator byte. The head occasionally prefixes a response with a
// stray NUL byte; that byte is stripped before the frame is returned.
//
// The function is pure: it never blocks, never returns a partial frame, and
// leaves buf untouched when no terminator is present. Feeding data
// incrementally across calls yields the same frames as one big buffer.
func ExtractFrames(buf []byte) (frames [][]byte, rest []byte) {
	rest = buf
	if len(rest) == 0 {
		return nil, rest
	}

	for {
		pos := bytes.IndexByte(rest, FrameEnd)
		if pos < 0 {
			return frames, rest
		}

		frame := rest[:pos+1]
		if len(frame) > 0 && frame[0] == 0x00 {
			frame = frame[1:]
		}

		frames = append(frames, frame)
		rest = rest[pos+1:]
	}
}
