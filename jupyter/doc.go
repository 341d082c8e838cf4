// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jupyter is scribe's client for a Jupyter Server.
//
// [Client] speaks the REST API: collaboration session negotiation
// (which yields the [Room] a document replica connects to), the
// sessions API that maps notebook paths to running kernels, kernel
// restart and interrupt, and kernelspec listing. Non-2xx responses
// become a [*ServerError] carrying the server's message when it
// provides one and the raw body otherwise.
//
// [KernelChannel] is one WebSocket connection to a kernel's multiplexed
// channels endpoint. It sends execute_request on the shell channel and
// routes every message whose parent is that request to the caller's
// handler until both the execute_reply and the idle status have been
// seen.
//
// Every request and handshake carries the [auth.Context] the Client
// was built with.
package jupyter
