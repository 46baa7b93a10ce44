package flight

import (
	"fmt"
	"sort"
)

// FlightMap is a string-keyed container whose value slot stores an already
// serialized encoding of the user's value. Typed access goes through the
// ObjectCodec. Input maps are sealed after flight creation; working and
// persisted maps stay mutable and are touched only by the owning runner.
type FlightMap struct {
	codec  ObjectCodec
	values map[string]string
	sealed bool
}

// NewFlightMap returns an empty map using the default JSON codec.
func NewFlightMap() *FlightMap {
	return NewFlightMapWithCodec(JSONCodec{})
}

func NewFlightMapWithCodec(codec ObjectCodec) *FlightMap {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &FlightMap{codec: codec, values: map[string]string{}}
}

// RestoreFlightMap rebuilds a map from serialized rows read back from the
// journal.
func RestoreFlightMap(raw map[string]string, codec ObjectCodec) *FlightMap {
	m := NewFlightMapWithCodec(codec)
	for k, v := range raw {
		m.values[k] = v
	}
	return m
}

// Put serializes v under key. Fails with ErrMapSealed on immutable maps.
func (m *FlightMap) Put(key string, v any) error {
	if m.sealed {
		return ErrMapSealed
	}
	s, err := m.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	m.values[key] = s
	return nil
}

// PutRaw stores an already-serialized value.
func (m *FlightMap) PutRaw(key, serialized string) error {
	if m.sealed {
		return ErrMapSealed
	}
	m.values[key] = serialized
	return nil
}

// Get deserializes the value under key into dest. The bool reports presence.
func (m *FlightMap) Get(key string, dest any) (bool, error) {
	s, ok := m.values[key]
	if !ok {
		return false, nil
	}
	if err := m.codec.Unmarshal(s, dest); err != nil {
		return true, fmt.Errorf("get %q: %w", key, err)
	}
	return true, nil
}

// GetRaw returns the serialized value under key.
func (m *FlightMap) GetRaw(key string) (string, bool) {
	s, ok := m.values[key]
	return s, ok
}

func (m *FlightMap) Delete(key string) {
	if !m.sealed {
		delete(m.values, key)
	}
}

// Seal makes the map immutable. Used for input maps after flight creation.
func (m *FlightMap) Seal() { m.sealed = true }

func (m *FlightMap) Sealed() bool { return m.sealed }

func (m *FlightMap) Len() int { return len(m.values) }

func (m *FlightMap) Keys() []string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the serialized contents, as journaled with each
// log entry.
func (m *FlightMap) Snapshot() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Codec exposes the map's codec so derived maps share serialization.
func (m *FlightMap) Codec() ObjectCodec { return m.codec }
