package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Session is an explicit handle over a Store, scoping every key to one
// conversation. It is created per inbound request and passed to the components
// that need conversation state.
type Session struct {
	store  Store
	prefix string
}

// New binds a Session to the conversation identified by externalID
// (e.g. "line-U1234...").
func New(store Store, externalID string) *Session {
	return &Session{store: store, prefix: strings.TrimSpace(externalID)}
}

func (s *Session) key(name string) string {
	return s.prefix + ":" + name
}

func (s *Session) Get(ctx context.Context, name string) (string, bool, error) {
	return s.store.Get(ctx, s.key(name))
}

func (s *Session) Set(ctx context.Context, name, value string) error {
	return s.store.Set(ctx, s.key(name), value)
}

func (s *Session) Has(ctx context.Context, name string) (bool, error) {
	return s.store.Has(ctx, s.key(name))
}

func (s *Session) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, s.key(name))
}

// GetBool reads a boolean flag. Absent or malformed values read as false.
func (s *Session) GetBool(ctx context.Context, name string) (bool, error) {
	raw, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return value, nil
}

func (s *Session) SetBool(ctx context.Context, name string, value bool) error {
	return s.Set(ctx, name, strconv.FormatBool(value))
}

// GetInt reads a counter. Absent or malformed values read as zero.
func (s *Session) GetInt(ctx context.Context, name string) (int, error) {
	raw, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return value, nil
}

func (s *Session) SetInt(ctx context.Context, name string, value int) error {
	return s.Set(ctx, name, strconv.Itoa(value))
}

// GetJSON decodes a stored JSON value into out. Returns false when absent.
func (s *Session) GetJSON(ctx context.Context, name string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, name)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return true, fmt.Errorf("decode session value %q: %w", name, err)
	}
	return true, nil
}

func (s *Session) SetJSON(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session value %q: %w", name, err)
	}
	return s.Set(ctx, name, string(raw))
}
