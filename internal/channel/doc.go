// Package channel defines the point-to-point messaging capability the
// pipeline drivers run on.
//
// A Channel connects one participant (identified by its rank) to every other
// participant of a run. Transfers are non-blocking: SendAsync and
// ReceiveAsync return a *Request immediately, and the caller later blocks on
// it with Await or AwaitAll. A nil *Request stands for "nothing outstanding"
// and awaiting it returns at once.
//
// Matching:
//   - A receive matches the oldest message with the same (source, tag)
//   - Messages between the same pair with the same tag are delivered in order
//   - A message longer than the receive buffer fails with ErrTruncated
//   - A send completes once its payload has been copied into a receive buffer
//
// The last rule means a send keeps referencing the caller's buffer until it
// completes. Callers must not write to that buffer before awaiting it.
//
// Implementations:
//   - local: in-process world of endpoints, used by tests and the local mode
//   - grpcchan: one gRPC server per participant, one stream per (peer, tag)
package channel
