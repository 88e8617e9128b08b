// Package txsched owns periodic frame transmission. Each registered frame
// gets a dedicated worker goroutine that encodes, stamps the rolling
// counter and checksum, sends, and then sleeps until the next tick on an
// absolute schedule (anchored at registration, not at the previous send),
// so timing error never accumulates across ticks.
//
// Contract:
//   - One task per frame identifier; adding the same frame twice fails.
//   - Mutators (UpdateValues, SetFixedCounter, Enable, ...) take effect on
//     the next tick; a tick in flight finishes with the values it read.
//   - Remove is the only way a worker exits besides Shutdown; a worker that
//     finds its entry gone returns without sending.
//   - Shutdown drains all workers, then closes the transport exactly once.
//
// Drift handling follows the bench's measured-compensation scheme: the
// worker keeps a short history of per-tick execution times and wakes early
// by a fraction of the mean, burning the remainder in a spin loop. See
// Timing for the knobs.
package txsched
