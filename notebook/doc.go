// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notebook holds scribe's local replica of a shared notebook.
//
// A [Document] is an ordered list of [Cell] values guarded by one
// mutex. Every change, local or remote, is expressed as a list of
// [Op] values. Local changes go through [Document.Transact]: the
// callback edits a working copy through a [Txn], and only if it returns
// nil are the cells swapped in and the ops published to observers as
// one [Update]. Collaborators therefore never see half of an edit.
// Remote changes arrive through [Document.ApplyUpdate] and full
// snapshots through [Document.Load]. Between [Document.Detach] and the
// next Load, local changes are held and then reapplied on top of the
// snapshot.
//
// Cells are addressed by stable id. Callers that think in positions
// resolve an index to an id inside the same transaction that edits the
// cell, so a concurrent insertion by another collaborator cannot
// redirect the edit to the wrong cell.
//
// Replication itself (merging concurrent edits between replicas) is the
// collaboration server's job; this package only keeps the ops ordered
// and atomic.
package notebook
