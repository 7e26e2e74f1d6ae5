// Package clock converts raw device cycle counters to nanoseconds.
//
// Device timers are fixed-width counters running at a known frequency and may
// wrap at most once within a single kernel interval. All conversions truncate
// toward zero and share one epoch per device, so normalized values are
// comparable across instances on the same device.
package clock

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrTimestampOverflow reports a counter value that cannot be explained
	// by at most one wraparound of the device timer.
	ErrTimestampOverflow = errors.New("timestamp overflow")

	// ErrInvalidInterval reports a normalized interval whose duration is not
	// strictly positive.
	ErrInvalidInterval = errors.New("invalid interval")
)

const nsecInSec = 1_000_000_000

// Meta describes the clock domain of a device timer.
type Meta struct {
	// FrequencyHz is the tick rate of the device timer.
	FrequencyHz uint64
	// CounterBits is the width of the hardware counter; the counter wraps at
	// 1<<CounterBits.
	CounterBits uint8
}

// Normalize converts a raw (start, end) cycle pair to nanoseconds.
//
// If end < start the counter wrapped exactly once and end is extended by
// 1<<CounterBits before conversion. A start value at or beyond the counter
// range means more than one wrap happened inside the interval, which the
// hardware cannot disambiguate; that fails with ErrTimestampOverflow instead
// of producing a silently wrong duration.
func Normalize(startCycles, endCycles uint64, m Meta) (startNS, endNS uint64, err error) {
	if m.FrequencyHz == 0 {
		return 0, 0, fmt.Errorf("%w: zero timer frequency", ErrInvalidInterval)
	}
	if m.CounterBits == 0 || m.CounterBits > 64 {
		return 0, 0, fmt.Errorf("%w: counter width %d bits", ErrTimestampOverflow, m.CounterBits)
	}

	if m.CounterBits < 64 {
		limit := uint64(1) << m.CounterBits
		if startCycles >= limit {
			return 0, 0, fmt.Errorf("%w: start %d exceeds %d-bit counter",
				ErrTimestampOverflow, startCycles, m.CounterBits)
		}
		if endCycles >= limit {
			return 0, 0, fmt.Errorf("%w: end %d exceeds %d-bit counter",
				ErrTimestampOverflow, endCycles, m.CounterBits)
		}
		if endCycles < startCycles {
			endCycles += limit
		}
	} else if endCycles < startCycles {
		// A 64-bit counter leaves no room to extend the wrapped value.
		return 0, 0, fmt.Errorf("%w: 64-bit counter wrapped", ErrTimestampOverflow)
	}

	startNS, ok := cyclesToNS(startCycles, m.FrequencyHz)
	if !ok {
		return 0, 0, fmt.Errorf("%w: start %d cycles at %dHz", ErrTimestampOverflow, startCycles, m.FrequencyHz)
	}
	endNS, ok = cyclesToNS(endCycles, m.FrequencyHz)
	if !ok {
		return 0, 0, fmt.Errorf("%w: end %d cycles at %dHz", ErrTimestampOverflow, endCycles, m.FrequencyHz)
	}
	if endNS <= startNS {
		return 0, 0, fmt.Errorf("%w: start %dns end %dns", ErrInvalidInterval, startNS, endNS)
	}
	return startNS, endNS, nil
}

// cyclesToNS computes cycles * 1e9 / freq with a 128-bit intermediate so that
// extended (wrapped) counter values cannot overflow the product. ok is false
// when the result itself does not fit in 64 bits.
func cyclesToNS(cycles, freq uint64) (uint64, bool) {
	hi, lo := bits.Mul64(cycles, nsecInSec)
	if hi >= freq {
		return 0, false
	}
	ns, _ := bits.Div64(hi, lo, freq)
	return ns, true
}
