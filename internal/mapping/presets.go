package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"egc/pkg/contracts/domain"
)

// PresetKeyPrefix namespaces presets inside a shared key/value store.
const PresetKeyPrefix = "mapping-preset:"

var (
	// ErrPresetNotFound is returned by Get for an unknown preset.
	ErrPresetNotFound = errors.New("mapping preset not found")
	// ErrPresetUnreadable marks a stored preset that no longer decodes.
	ErrPresetUnreadable = errors.New("mapping preset unreadable")
)

// KV is the storage capability presets need. Get must return an error
// matching notFound for a missing key.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// PresetStore saves named mappings.
type PresetStore struct {
	kv       KV
	notFound error
	now      func() time.Time
}

// NewPresetStore wraps kv. notFound is the sentinel kv returns for a missing key.
func NewPresetStore(kv KV, notFound error) *PresetStore {
	return &PresetStore{kv: kv, notFound: notFound, now: time.Now}
}

func presetKey(name string) string {
	return PresetKeyPrefix + name
}

// Save stores p under its name, replacing any previous preset.
func (s *PresetStore) Save(ctx context.Context, p domain.MappingPreset) (domain.MappingPreset, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.MappingPreset{}, errors.New("preset name is required")
	}
	p.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return domain.MappingPreset{}, fmt.Errorf("encode preset %q: %w", p.Name, err)
	}
	if err := s.kv.Set(ctx, presetKey(p.Name), string(data)); err != nil {
		return domain.MappingPreset{}, fmt.Errorf("save preset %q: %w", p.Name, err)
	}
	return p, nil
}

func (s *PresetStore) Get(ctx context.Context, name string) (domain.MappingPreset, error) {
	raw, err := s.kv.Get(ctx, presetKey(name))
	if err != nil {
		if s.notFound != nil && errors.Is(err, s.notFound) {
			return domain.MappingPreset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
		}
		return domain.MappingPreset{}, fmt.Errorf("load preset %q: %w", name, err)
	}
	var p domain.MappingPreset
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.MappingPreset{}, fmt.Errorf("%w: %q: %w", ErrPresetUnreadable, name, err)
	}
	return p, nil
}

func (s *PresetStore) Delete(ctx context.Context, name string) error {
	if err := s.kv.Delete(ctx, presetKey(name)); err != nil {
		return fmt.Errorf("delete preset %q: %w", name, err)
	}
	return nil
}

// Names lists saved preset names in order.
func (s *PresetStore) Names(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, PresetKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, PresetKeyPrefix))
	}
	return names, nil
}
