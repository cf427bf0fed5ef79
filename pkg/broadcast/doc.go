// Package broadcast announces committed operations to sibling replicas and
// consumes the operations they announce.
//
// Service.Announce is the single publish attempt: it encodes the operation
// with the configured codec, attaches the standard attributes (operation,
// operation_id, origin, codec, digest) and hands the message to the shared
// channel handle. It never retries. Callers that want retries wrap the
// service in a Retrier, which only repeats transport failures with a transient
// cause.
//
// A failed announce never undoes the write that produced the operation; the
// caller decides whether to log it (AnnounceBestEffort), retry it, or persist
// it for later delivery (see the outbox package).
//
//	svc := broadcast.New(handle,
//	    broadcast.WithOrigin(cfg.ReplicaID),
//	    broadcast.WithLogger(log),
//	)
//	if err := svc.Announce(ctx, op); err != nil {
//	    var bErr *broadcast.Error
//	    if errors.As(err, &bErr) && bErr.Kind == broadcast.KindTransportFailure {
//	        // committed locally, peers not told
//	    }
//	}
//
// Receiver is the peer side. It drops operations announced by this replica,
// drops re-deliveries by operation id and passes the rest to a Handler.
package broadcast
