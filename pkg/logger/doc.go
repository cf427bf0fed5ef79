// Package logger builds the process *slog.Logger and provides the attribute
// helpers used across replicast so that keys stay consistent between packages.
//
// New takes functional options: output format and level, static attributes,
// and ContextExtractor callbacks that pull request-scoped values (such as the
// request id) from the context of every record.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, cfg.AppName),
//	    logger.WithLevelName(cfg.LogLevel),
//	    logger.WithAttr(logger.Replica(cfg.ReplicaID)),
//	    logger.WithContextExtractors(requestid.Extractor()),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "operation announced",
//	    logger.Component("broadcast"),
//	    logger.Operation(op.Kind()),
//	    logger.OperationID(op.ID()),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
