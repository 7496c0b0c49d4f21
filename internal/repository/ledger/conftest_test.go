package ledger

import (
	"context"
	"strconv"
)

// memStore is an in-memory implementation of the consumer interface.
type memStore struct {
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}

	hincrErr error
	readErr  error
	saddErr  error
}

func newMemStore() *memStore {
	return &memStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

func (m *memStore) HIncrBy(_ context.Context, key string, deltas map[string]int64) error {
	if m.hincrErr != nil {
		return m.hincrErr
	}
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for f, d := range deltas {
		cur, _ := strconv.ParseInt(h[f], 10, 64)
		h[f] = strconv.FormatInt(cur+d, 10)
	}
	return nil
}

func (m *memStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		h, err := m.HGetAll(ctx, k)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func (m *memStore) SAdd(_ context.Context, key string, members ...string) error {
	if m.saddErr != nil {
		return m.saddErr
	}
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = struct{}{}
	}
	return nil
}

func (m *memStore) SMembers(_ context.Context, key string) ([]string, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []string
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	return out, nil
}
