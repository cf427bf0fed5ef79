// Package records is the replicated resource served by a replica: integer
// keyed text records stored in the local database.
//
// Every write commits locally first. The configured Replicator then either
// announces the operation right away (Direct, best effort) or has already
// staged it in the replication outbox inside the same transaction (Outbox).
// Either way the committed record is returned to the client; the
// X-Replication response header tells whether the announce was sent, failed
// or queued.
//
//	svc := records.NewService(gateway, records.NewDirect(broadcaster), records.WithOrigin(replicaID))
//	r.Mount("/records", records.NewHandler(svc, log).Handle())
package records
