package redis

import (
	"context"
	"reflect"

	"github.com/redis/go-redis/v9"
)

// hSetStruct writes the `redis` tagged fields of value, skipping nil pointers.
func (r repo) hSetStruct(ctx context.Context, c redis.Cmdable, key string, value any) {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	fields := make(map[string]any, v.NumField())
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("redis")
		if tag == "" || tag == "-" {
			continue
		}

		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				continue
			}
			fields[tag] = field.Elem().Interface()
		} else {
			fields[tag] = field.Interface()
		}
	}

	c.HSet(ctx, key, fields)
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}

		return err
	}

	return nil
}

// hGetAllMany loads several hashes in one round trip. Missing hashes are skipped.
func hGetAllMany[T any](ctx context.Context, rc *redis.Client, keys []string) ([]T, error) {
	if len(keys) == 0 {
		return []T{}, nil
	}

	pipe := rc.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(keys))
	for _, key := range keys {
		cmds = append(cmds, pipe.HGetAll(ctx, key))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	values := make([]T, 0, len(keys))
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}

		var value T
		if err := cmd.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}

	return values, nil
}

func boolArg(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
