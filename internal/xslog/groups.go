package xslog

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/garrettladley/hookd/internal/xcontext"
)

const (
	groupRequest  = "request"
	groupResponse = "response"
	groupError    = "error"
	groupEvent    = "event"
	groupDelivery = "delivery"
)

const (
	keyID         = "id"
	keyHost       = "host"
	keyUserAgent  = "user_agent"
	keyProto      = "proto"
	keyQuery      = "query"
	keyStatusText = "status_text"
	keyDurationMS = "duration_ms"
	keyMessage    = "message"
	keyType       = "type"
	keyValue      = "value"
	keyRoot       = "root"
	keyOutcome    = "outcome"
	keyAttempts   = "attempts"
	keySizeBytes  = "size_bytes"
)

func RequestGroup(r *http.Request) slog.Attr {
	attrs := []slog.Attr{
		RequestMethod(r),
		RequestPath(r),
		RequestIP(r),
		slog.String(keyHost, r.Host),
		slog.String(keyUserAgent, r.UserAgent()),
		slog.String(keyProto, r.Proto),
	}
	if id, ok := xcontext.GetRequestID(r.Context()); ok {
		attrs = append(attrs, slog.String(keyID, id))
	}
	if r.URL.RawQuery != "" {
		attrs = append(attrs, slog.String(keyQuery, r.URL.RawQuery))
	}
	return slog.GroupAttrs(groupRequest, attrs...)
}

func ResponseGroup(status int, duration time.Duration) slog.Attr {
	return slog.Group(groupResponse,
		HTTPStatus(status),
		slog.String(keyStatusText, http.StatusText(status)),
		Duration(duration),
		slog.Int64(keyDurationMS, duration.Milliseconds()),
	)
}

func ErrorGroup(err error) slog.Attr {
	if err == nil {
		return slog.Group(groupError)
	}
	attrs := []slog.Attr{
		slog.String(keyMessage, err.Error()),
		slog.String(keyType, fmt.Sprintf("%T", err)),
	}
	if root := rootCause(err); root != err {
		attrs = append(attrs, slog.String(keyRoot, fmt.Sprintf("%T", root)))
	}
	return slog.GroupAttrs(groupError, attrs...)
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func ErrorGroupWithStack(err any) slog.Attr {
	return slog.Group(groupError,
		slog.Any(keyValue, err),
		slog.String(keyType, fmt.Sprintf("%T", err)),
		Stack(),
	)
}

func EventGroup(id, eventType string) slog.Attr {
	return slog.Group(groupEvent,
		slog.String(keyID, id),
		slog.String(keyType, eventType),
	)
}

// DeliveryGroup summarizes one handled webhook delivery.
func DeliveryGroup(outcome string, attempts, size int, elapsed time.Duration) slog.Attr {
	return slog.Group(groupDelivery,
		slog.String(keyOutcome, outcome),
		slog.Int(keyAttempts, attempts),
		slog.Int(keySizeBytes, size),
		slog.Int64(keyDurationMS, elapsed.Milliseconds()),
	)
}
