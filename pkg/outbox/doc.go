// Package outbox makes operation announces durable.
//
// In outbox mode a write and its announce are recorded in the same
// transaction: Store.Enqueue inserts the encoded operation into the
// replication_outbox table through the write's storage.Tx. A Dispatcher then
// polls the table, announces due entries through the broadcast service in
// creation order and marks them published. Transport failures are retried
// with exponential backoff; entries that reach OUTBOX_MAX_ATTEMPTS, or that
// fail for a non-transport reason, stay in the table with their last error.
//
//	store := outbox.NewStore(gateway, cfg.MaxAttempts)
//	d, err := outbox.NewDispatcher(store, svc, outbox.WithConfig(cfg), outbox.WithLogger(log))
//	g.Go(d.Run(ctx))
package outbox
