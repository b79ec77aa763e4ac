// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package audit provides the append-only log of access-relevant changes.
//
// # Overview
//
// Every grant, moderation and configuration mutation writes exactly one Entry
// through Log.Append. Services call Append with the context of their own
// transaction, so the entry commits or rolls back together with the change
// it describes.
//
// # Immutability
//
// Entries are never updated or deleted. Log.Delete and Log.Update exist only
// to return ErrAuditImmutable ("logs cannot be deleted"); the storage layer
// repeats the refusal, and the database rejects UPDATE and DELETE on the
// audit table with a trigger.
//
// # Querying
//
// Log.Query returns a lazy iterator. Pages are fetched from the repository
// on demand using keyset pagination over entry IDs, which are ULIDs and so
// sort by creation time.
//
//	for entry, err := range log.Query(ctx, audit.Filter{WorldID: "w1", ActionPrefix: "auth.user."}) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(entry.Action, entry.Payload.Object)
//	}
//
// # Metrics
//
//   - worldgate_audit_appends_total{action}: entries written
//   - worldgate_audit_failures_total{reason}: failed appends and queries
package audit
