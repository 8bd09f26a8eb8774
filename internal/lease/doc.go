// Package lease implements the automation lease: a single, time-bounded,
// exclusive token gating access to the browser's debugging endpoint.
//
// Acquisition is compare-and-set. With the default fail-fast policy a
// request while another client holds a valid lease returns
// errs.ErrLeaseConflict immediately; the queue policy instead waits until the
// lease is released or expires, bounded by the caller's context.
//
// A lease that is neither renewed nor released becomes invalid exactly at
// its deadline. Holders can watch Grant.Done to tear down sessions when that
// happens.
package lease
