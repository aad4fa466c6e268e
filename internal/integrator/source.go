package integrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
)

// Source returns integrations by id.
type Source interface {
	Get(ctx context.Context, integrationID string) (scheduling.Integration, error)
	List(ctx context.Context) ([]scheduling.Integration, error)
}

// StaticSource serves a fixed set of integrations, usually loaded from a JSON file.
type StaticSource struct {
	byID map[string]scheduling.Integration
}

var _ Source = (*StaticSource)(nil)

// NewStaticSource indexes integrations by id. Ids must be unique and non-empty.
func NewStaticSource(integrations ...scheduling.Integration) (*StaticSource, error) {
	byID := make(map[string]scheduling.Integration, len(integrations))
	for _, in := range integrations {
		id := strings.TrimSpace(in.ID)
		if id == "" {
			return nil, fmt.Errorf("integrator: integration %q has no id", in.Name)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("integrator: duplicate integration id %s", id)
		}
		if strings.TrimSpace(in.Provider) == "" {
			return nil, fmt.Errorf("integrator: integration %s has no provider", id)
		}
		in.ID = id
		byID[id] = in
	}
	return &StaticSource{byID: byID}, nil
}

// ReadStaticSource decodes a JSON array of integrations.
func ReadStaticSource(r io.Reader) (*StaticSource, error) {
	var integrations []scheduling.Integration
	if err := json.NewDecoder(r).Decode(&integrations); err != nil {
		return nil, fmt.Errorf("integrator: decode integrations: %w", err)
	}
	return NewStaticSource(integrations...)
}

// LoadStaticSource reads integrations from a JSON file. An empty path yields
// an empty source.
func LoadStaticSource(path string) (*StaticSource, error) {
	if strings.TrimSpace(path) == "" {
		return NewStaticSource()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("integrator: open integrations file: %w", err)
	}
	defer f.Close()
	return ReadStaticSource(f)
}

func (s *StaticSource) Get(_ context.Context, integrationID string) (scheduling.Integration, error) {
	in, ok := s.byID[integrationID]
	if !ok {
		return scheduling.Integration{}, scheduling.NotFound("integrator.Source", "integration %s not found", integrationID)
	}
	return in, nil
}

func (s *StaticSource) List(context.Context) ([]scheduling.Integration, error) {
	out := make([]scheduling.Integration, 0, len(s.byID))
	for _, in := range s.byID {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
