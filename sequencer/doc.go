// Package sequencer implements the bounded-lookahead resequencer applied to
// authenticated data messages before they are forwarded to local ports.
//
// Audio is latency sensitive, so the sequencer never waits for a missing
// message. It holds at most two messages per peer for a single receive cycle
// to undo a simple swap, and otherwise releases immediately. A message that
// arrives later than that window has already been counted as lost and is
// released as-is.
//
// The rules, with 16-bit wrapping deltas read as signed values:
//
//   - dIn is the distance to the last received sequence of the channel,
//     dIO the distance to the last released one.
//   - Lost grows by dIn-1 for every non-first message with dIn != 0. A
//     backward delta makes this negative, so a late arrival cancels the
//     loss its gap produced.
//   - A message with dIn > 1 and dIO > 1 is held and nothing is released.
//   - A message with dIn < -1, or with dIO > 1 and dIn > 0, is swapped with
//     an older held message of the same channel.
//   - Everything else is released at once; held messages are released on
//     the next call without input.
//
// Process runs one receive cycle: one push followed by draining.
package sequencer
