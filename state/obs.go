package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// OBSCredentials returns the last-known credentials held in memory (the settings form).
func (s *Store) OBSCredentials() ConnectionCredentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obs
}

// SetOBSCredentials updates the in-memory credentials without touching durable storage.
func (s *Store) SetOBSCredentials(c ConnectionCredentials) {
	s.mu.Lock()
	s.obs = c
	s.mu.Unlock()
}

// SaveOBSCredentials records credentials in memory and in the durable OBS blob.
func (s *Store) SaveOBSCredentials(ctx context.Context, c ConnectionCredentials) error {
	s.SetOBSCredentials(c)
	if s.persister == nil {
		return nil
	}
	blob, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.persister.Save(ctx, KeyOBSCredentials, blob); err != nil {
		return fmt.Errorf("save obs credentials: %w", err)
	}
	return nil
}

// StoredOBSCredentials reads the durable OBS blob.
func (s *Store) StoredOBSCredentials(ctx context.Context) (ConnectionCredentials, bool, error) {
	if s.persister == nil {
		return ConnectionCredentials{}, false, nil
	}
	blob, ok, err := s.persister.Load(ctx, KeyOBSCredentials)
	if err != nil || !ok {
		return ConnectionCredentials{}, false, err
	}
	var c ConnectionCredentials
	if err := json.Unmarshal(blob, &c); err != nil {
		return ConnectionCredentials{}, false, fmt.Errorf("decode obs credentials: %w", err)
	}
	return c, c.Valid(), nil
}

// ClearOBSCredentials removes the durable OBS blob. In-memory credentials are kept so the
// settings form still shows them.
func (s *Store) ClearOBSCredentials(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Delete(ctx, KeyOBSCredentials)
}
