package pipeline

import "bytes"

const alphabet = 26

// FillByte is the payload byte the producer writes on iteration i.
func FillByte(iteration int) byte {
	return byte('A' + iteration%alphabet)
}

// Fill overwrites the whole buffer with the payload of iteration i.
func Fill(buf []byte, iteration int) {
	b := FillByte(iteration)
	for i := range buf {
		buf[i] = b
	}
}

// Report describes one consumed payload.
type Report struct {
	Iteration int
	Slot      int
	FirstByte byte
	Length    int
	// Uniform is true when every byte equals FirstByte.
	Uniform bool
	// Valid is true when the payload is uniform and carries this
	// iteration's fill byte.
	Valid bool
}

// Inspect builds the report for a received payload.
func Inspect(iteration, slot int, payload []byte) Report {
	r := Report{
		Iteration: iteration,
		Slot:      slot,
		Length:    len(payload),
	}
	if len(payload) == 0 {
		return r
	}
	r.FirstByte = payload[0]
	r.Uniform = bytes.Count(payload, payload[:1]) == len(payload)
	r.Valid = r.Uniform && r.FirstByte == FillByte(iteration)
	return r
}
