// Package logger builds context-aware *slog.Logger instances from functional
// options and provides attribute helpers that keep key names consistent.
//
// New picks a text or JSON handler and wraps it so that every record also
// carries the attrs attached with ContextWithAttrs and those produced by the
// registered ContextExtractors. The HTTP layer uses this to stamp request and
// user ids on log lines without threading a logger through the call chain.
//
// # Usage
//
//	log := logger.New(logger.FromConfig(cfg.Log)...)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "promo applied",
//		logger.UserID(userID),
//		logger.PromoCode(code),
//	)
//
// # Attributes
//
// Helpers such as Error, UserID, PromoCode and CustomerRef return an empty
// slog.Attr for zero values so they can be passed unconditionally.
//
// Components that accept an injected logger default to Discard.
package logger
