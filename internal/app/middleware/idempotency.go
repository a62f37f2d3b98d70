package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"hotelsaga/internal/app/commands"
)

// IdempotentCommand must be implemented by commands that want idempotency guarantees.
type IdempotentCommand interface {
	commands.Command
	IdempotencyKey() string
	ResultPrototype() any // pointer to a value of the handler result type
}

type IdempotencyRecord struct {
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

// IdempotencyStore keeps command results for a retention window chosen by
// the implementation, and short-lived claims on keys whose command is still
// running.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Save(ctx context.Context, rec IdempotencyRecord) error
	// Reserve claims key for ttl. It reports false while another claim on
	// key is live.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops the claim on key.
	Release(ctx context.Context, key string) error
}

type ResultCodec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

type JSONResultCodec struct{}

func (JSONResultCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONResultCodec) Decode(data []byte, out any) error {
	return json.Unmarshal(data, out)
}

var (
	ErrCommandInFlight  = errors.New("middleware: a command with this idempotency key is in progress")
	errMissingPrototype = errors.New("middleware: idempotent command requires result prototype")
)

// ClaimTTL bounds how long a crashed request can block its idempotency key.
const ClaimTTL = 30 * time.Second

// Idempotency replays the stored result of a command already handled under
// the same key. A key is claimed before the command runs, so a concurrent
// request with the same key gets ErrCommandInFlight instead of running it
// twice. Failed commands are not recorded so the client may retry.
func Idempotency(store IdempotencyStore, codec ResultCodec) CommandMiddleware {
	if store == nil {
		panic("middleware: idempotency store required")
	}
	if codec == nil {
		codec = JSONResultCodec{}
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			idCmd, ok := cmd.(IdempotentCommand)
			if !ok || idCmd.IdempotencyKey() == "" {
				return next.Dispatch(ctx, cmd)
			}
			key := cmd.Key() + ":" + idCmd.IdempotencyKey()
			if result, found, err := replay(ctx, store, codec, idCmd, key); found || err != nil {
				return result, err
			}
			claimed, err := store.Reserve(ctx, key, ClaimTTL)
			if err != nil {
				return nil, err
			}
			if !claimed {
				if result, found, err := replay(ctx, store, codec, idCmd, key); found || err != nil {
					return result, err
				}
				return nil, ErrCommandInFlight
			}
			defer func() { _ = store.Release(context.WithoutCancel(ctx), key) }()
			// The previous holder may have saved its result between the first
			// lookup and the claim.
			if result, found, err := replay(ctx, store, codec, idCmd, key); found || err != nil {
				return result, err
			}

			result, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			record := IdempotencyRecord{Key: key, OccurredAt: time.Now().UTC()}
			if result != nil {
				if record.Payload, err = codec.Encode(result); err != nil {
					return nil, err
				}
			}
			if err := store.Save(ctx, record); err != nil {
				return nil, err
			}
			return result, nil
		})
	}
}

func replay(ctx context.Context, store IdempotencyStore, codec ResultCodec, cmd IdempotentCommand, key string) (any, bool, error) {
	rec, found, err := store.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	proto := cmd.ResultPrototype()
	if proto == nil {
		return nil, true, errMissingPrototype
	}
	if len(rec.Payload) > 0 {
		if err := codec.Decode(rec.Payload, proto); err != nil {
			return nil, true, err
		}
	}
	return dereference(proto), true, nil
}

func dereference(proto any) any {
	rv := reflect.ValueOf(proto)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return proto
}
