package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
)

type store struct {
	mu      sync.Mutex
	last    uint64
	records []*resource.Record
}

// New returns a new in memory resource.Store
func New() resource.Store {
	return &store{}
}

// Save implements resource.Store.Save
func (s *store) Save(_ context.Context, data *resource.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if item := s.find(data.Network, data.Symbol); item != nil {
		item.Mint = data.Mint
		item.Decimals = data.Decimals
		item.Authority = data.Authority
		item.RunID = data.RunID
		item.LastUpdatedAt = now

		item.CopyTo(data)
		return nil
	}

	s.last++
	data.Id = s.last
	data.CreatedAt = now
	data.LastUpdatedAt = now

	cloned := data.Clone()
	s.records = append(s.records, &cloned)

	return nil
}

// Get implements resource.Store.Get
func (s *store) Get(_ context.Context, network, symbol string) (*resource.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.find(network, symbol)
	if item == nil {
		return nil, resource.ErrNotFound
	}

	cloned := item.Clone()
	return &cloned, nil
}

// GetAllByNetwork implements resource.Store.GetAllByNetwork
func (s *store) GetAllByNetwork(_ context.Context, network string) ([]*resource.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*resource.Record
	for _, item := range s.records {
		if item.Network == network {
			cloned := item.Clone()
			res = append(res, &cloned)
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Symbol < res[j].Symbol
	})
	return res, nil
}

// Delete implements resource.Store.Delete
func (s *store) Delete(_ context.Context, network, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.records {
		if item.Network == network && item.Symbol == symbol {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}

	return nil
}

func (s *store) find(network, symbol string) *resource.Record {
	for _, item := range s.records {
		if item.Network == network && item.Symbol == symbol {
			return item
		}
	}

	return nil
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
	s.records = nil
}
