package nn

import (
	"encoding/json"
	"fmt"
	"io"
)

const formatVersion = 1

// snapshot is the on-disk form of a Network.
type snapshot struct {
	Version      int          `json:"version"`
	Architecture Architecture `json:"architecture"`
	Params       [][]float64  `json:"params"`
}

// Save writes the architecture and weights as JSON.
func (n *Network) Save(w io.Writer) error {
	return json.NewEncoder(w).Encode(snapshot{
		Version:      formatVersion,
		Architecture: n.arch,
		Params:       n.params(),
	})
}

// Load replaces the network's architecture and weights with those read
// from r. On error the network is unchanged.
func (n *Network) Load(r io.Reader) error {
	var s snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return fmt.Errorf("failed to decode weights: %w", err)
	}
	if s.Version != formatVersion {
		return fmt.Errorf("unsupported weights version %d", s.Version)
	}

	loaded, err := newZero(s.Architecture)
	if err != nil {
		return fmt.Errorf("invalid architecture in weights: %w", err)
	}

	want := loaded.params()
	if len(s.Params) != len(want) {
		return fmt.Errorf("expected %d parameter tensors, got %d", len(want), len(s.Params))
	}
	for i, p := range want {
		if len(s.Params[i]) != len(p) {
			return fmt.Errorf("parameter tensor %d: expected %d values, got %d", i, len(p), len(s.Params[i]))
		}
	}

	loaded.setParams(s.Params)
	*n = *loaded
	return nil
}

// Read decodes a network previously written with Save.
func Read(r io.Reader) (*Network, error) {
	n := &Network{}
	if err := n.Load(r); err != nil {
		return nil, err
	}
	return n, nil
}
