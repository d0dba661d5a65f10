// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package conductor is the client side of a conductor's control plane.
//
// A [Manager] dials an [endpoint.Endpoint] and returns a [Session]: one
// websocket carrying CBOR envelopes, with a reader goroutine that
// matches each response to its request by id. Sessions belong to a
// single command invocation and are closed on every exit path; they
// are never pooled or reused.
//
// [AdminClient] and [AppClient] wrap a session with the typed
// operations the command surface needs. Failures are reported as
// [*Error], whose Kind distinguishes a refused dial, a failed
// handshake, a timeout, a closed session, a malformed frame and a
// conductor-side rejection.
package conductor
