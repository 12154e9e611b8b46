package logx

import (
	"context"
	"strings"

	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	clientKey contextKey = iota
	sessionKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithClient annotates the logger with the client id if present.
func WithClient(ctx context.Context, clientID schema.ClientID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if clientID != "" {
		if current, ok := ctx.Value(clientKey).(schema.ClientID); ok && current == clientID {
			return log
		}
		log = log.With("client", clientID)
	}
	return log
}

// WithClientSession annotates the logger with client and session identifiers.
func WithClientSession(ctx context.Context, clientID schema.ClientID, sessionID schema.SessionID) pslog.Logger {
	log := WithClient(ctx, clientID)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithWidgets annotates the logger with a widget list.
func WithWidgets(log pslog.Logger, widgets []schema.WidgetName) pslog.Logger {
	if widgets == nil {
		return log
	}
	names := make([]string, len(widgets))
	for i, w := range widgets {
		names[i] = string(w)
	}
	return log.With("widgets", strings.Join(names, ","))
}

// ContextWithClient stores the client marker on the context for log de-duplication.
func ContextWithClient(ctx context.Context, clientID schema.ClientID) context.Context {
	if ctx == nil || clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, clientKey, clientID)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithClientSessionLogger attaches the logger and client/session markers to the context.
func ContextWithClientSessionLogger(ctx context.Context, log pslog.Logger, clientID schema.ClientID, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ContextWithClient(ctx, clientID), sessionID)
}
