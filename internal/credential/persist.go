package credential

import (
	"fmt"

	"aidispatch/internal/core"
	"aidispatch/internal/util"
)

// StateKey implements core.Persistable
func (s *Store) StateKey() string {
	return core.StorageKeyCredentials
}

// MarshalState implements core.Persistable
func (s *Store) MarshalState() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return util.MarshalJSON(s.creds)
}

// UnmarshalState merges persisted credentials into the store. Stored entries
// come first so the persisted active key survives; duplicates are dropped and
// each provider ends with exactly one active credential.
func (s *Store) UnmarshalState(data []byte) error {
	var stored map[string][]Credential
	if err := util.UnmarshalJSON(data, &stored); err != nil {
		return fmt.Errorf("failed to decode credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for provider, list := range stored {
		merged := make([]Credential, 0, len(list)+len(s.creds[provider]))
		seen := make(map[string]bool, cap(merged))
		for _, c := range append(list, s.creds[provider]...) {
			if c.Secret == "" || seen[c.Secret] {
				continue
			}
			seen[c.Secret] = true
			merged = append(merged, c)
		}
		if len(merged) == 0 {
			continue
		}

		active := activeIndex(merged)
		for i := range merged {
			merged[i].Active = i == active
		}
		s.creds[provider] = merged
	}
	return nil
}
