// Package redis is a remote.Store on Redis. Each record is a hash; a sorted
// set per table keeps insertion order.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"moneybook/internal/remote"
)

const defaultPrefix = "moneybook"

type Store struct {
	client *goredis.Client
	prefix string
}

var _ remote.Store = (*Store)(nil)

// ParseOptions accepts either a redis:// URL or a bare host:port.
func ParseOptions(redisURL string) *goredis.Options {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		opt, err = goredis.ParseURL("redis://" + redisURL)
	}
	if err != nil {
		opt = &goredis.Options{Addr: redisURL}
	}
	return opt
}

// New connects to redisURL and checks the connection. Keys are namespaced
// under prefix, "moneybook" when empty.
func New(ctx context.Context, redisURL, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	client := goredis.NewClient(ParseOptions(redisURL))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) seqKey(table string) string   { return fmt.Sprintf("%s:%s:seq", s.prefix, table) }
func (s *Store) indexKey(table string) string { return fmt.Sprintf("%s:%s:index", s.prefix, table) }
func (s *Store) recordKey(table, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, table, id)
}

func fields(rec remote.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k := range rec {
		if k == remote.FieldID {
			continue
		}
		out[k] = rec.String(k)
	}
	return out
}

func (s *Store) Insert(ctx context.Context, table string, rec remote.Record) (string, error) {
	if err := remote.CheckTable(table); err != nil {
		return "", err
	}
	n, err := s.client.Incr(ctx, s.seqKey(table)).Result()
	if err != nil {
		return "", fmt.Errorf("allocate id in %s: %w", table, err)
	}
	id := strconv.FormatInt(n, 10)

	values := fields(rec)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(values) > 0 {
			pipe.HSet(ctx, s.recordKey(table, id), values)
		} else {
			pipe.HSet(ctx, s.recordKey(table, id), remote.FieldUserID, "")
		}
		pipe.ZAdd(ctx, s.indexKey(table), goredis.Z{Score: float64(n), Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", table, err)
	}
	return id, nil
}

// updateScript writes the patch only if the record hash still exists, so an
// update racing a delete cannot leave a partial hash behind.
var updateScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if #ARGV > 0 then
	redis.call('HSET', KEYS[1], unpack(ARGV))
end
return 1
`)

// updateArgs flattens a patch into sorted field, value pairs.
func updateArgs(patch remote.Record) []any {
	values := fields(patch)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, values[k])
	}
	return args
}

func (s *Store) Update(ctx context.Context, table, id string, patch remote.Record) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}
	found, err := updateScript.Run(ctx, s.client, []string{s.recordKey(table, id)}, updateArgs(patch)...).Int()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	if found == 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}
	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.recordKey(table, id))
		pipe.ZRem(ctx, s.indexKey(table), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, table string, f remote.Filter) ([]remote.Record, error) {
	if err := remote.CheckTable(table); err != nil {
		return nil, err
	}
	ids, err := s.client.ZRange(ctx, s.indexKey(table), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(table, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}

	recs := make([]remote.Record, 0, len(ids))
	for i, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		rec := make(remote.Record, len(values)+1)
		for k, v := range values {
			rec[k] = v
		}
		rec[remote.FieldID] = ids[i]
		recs = append(recs, rec)
	}
	return f.Apply(recs), nil
}
