package offlinesync

import (
	"context"
	"encoding/json"
)

// NetworkAdapter performs the actual backend call for one queued mutation.
// The engine depends only on this contract; transport/rest provides the
// HTTP implementation.
//
// Implementations classify their failures through the errors package: a
// retryable outcome is reported as a NetworkFailure or ServerError, a
// server-reported conflict as a ServerConflict, and a non-conflict 4xx as
// a terminal ClientError. The payload is opaque to the engine; adapters
// that need an entity id (update, delete) derive it from the payload.
type NetworkAdapter interface {
	Create(ctx context.Context, dataType DataType, payload json.RawMessage) error
	Update(ctx context.Context, dataType DataType, payload json.RawMessage) error
	Delete(ctx context.Context, dataType DataType, payload json.RawMessage) error
	Close() error
}

// TokenSource supplies the bearer credential attached to backend calls.
// Token storage itself is owned by the host application.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken returns a TokenSource that always yields the given credential.
func StaticToken(token string) TokenSource {
	return TokenSourceFunc(func(context.Context) (string, error) {
		return token, nil
	})
}
