package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	"github.com/qbitflow/bootstrap/pkg/osutil"
)

const (
	// FileName is the registry file created inside the accounts directory.
	FileName = "resources.json"

	fileMode = 0600
	dirMode  = 0700
)

type model struct {
	Id            uint64    `json:"id"`
	Network       string    `json:"network"`
	Symbol        string    `json:"symbol"`
	Mint          string    `json:"mint"`
	Decimals      uint8     `json:"decimals"`
	Authority     string    `json:"authority"`
	RunID         string    `json:"run_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type document struct {
	Resources []*model `json:"resources"`
}

type store struct {
	mu   sync.Mutex
	path string
}

// New returns a resource.Store persisted as a JSON document at
// <dir>/resources.json. The file is created on the first Save.
func New(dir string) resource.Store {
	return &store{
		path: filepath.Join(dir, FileName),
	}
}

// Save implements resource.Store.Save
func (s *store) Save(ctx context.Context, data *resource.Record) error {
	if err := data.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	m := doc.find(data.Network, data.Symbol)
	if m != nil {
		m.Mint = data.Mint
		m.Decimals = data.Decimals
		m.Authority = data.Authority
		m.RunID = data.RunID
		m.LastUpdatedAt = now
	} else {
		m = toModel(data)
		m.Id = doc.nextId()
		m.CreatedAt = now
		m.LastUpdatedAt = now
		doc.Resources = append(doc.Resources, m)
	}

	if err := s.write(doc); err != nil {
		return err
	}

	fromModel(m).CopyTo(data)
	return nil
}

// Get implements resource.Store.Get
func (s *store) Get(ctx context.Context, network, symbol string) (*resource.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	m := doc.find(network, symbol)
	if m == nil {
		return nil, resource.ErrNotFound
	}
	return fromModel(m), nil
}

// GetAllByNetwork implements resource.Store.GetAllByNetwork
func (s *store) GetAllByNetwork(ctx context.Context, network string) ([]*resource.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	var res []*resource.Record
	for _, m := range doc.Resources {
		if m.Network == network {
			res = append(res, fromModel(m))
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Symbol < res[j].Symbol
	})
	return res, nil
}

// Delete implements resource.Store.Delete
func (s *store) Delete(ctx context.Context, network, symbol string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	for i, m := range doc.Resources {
		if m.Network == network && m.Symbol == symbol {
			doc.Resources = append(doc.Resources[:i], doc.Resources[i+1:]...)
			return s.write(doc)
		}
	}

	return nil
}

func (s *store) read() (*document, error) {
	var doc document

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &doc, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.path)
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "malformed resource registry %s", s.path)
	}
	return &doc, nil
}

func (s *store) write(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := osutil.WriteFileAtomic(s.path, append(data, '\n'), fileMode, dirMode); err != nil {
		return errors.Wrapf(err, "failed to write %s", s.path)
	}
	return nil
}

func (d *document) find(network, symbol string) *model {
	for _, m := range d.Resources {
		if m.Network == network && m.Symbol == symbol {
			return m
		}
	}
	return nil
}

func (d *document) nextId() uint64 {
	var last uint64
	for _, m := range d.Resources {
		if m.Id > last {
			last = m.Id
		}
	}
	return last + 1
}

func toModel(r *resource.Record) *model {
	return &model{
		Id:            r.Id,
		Network:       r.Network,
		Symbol:        r.Symbol,
		Mint:          r.Mint,
		Decimals:      r.Decimals,
		Authority:     r.Authority,
		RunID:         r.RunID,
		CreatedAt:     r.CreatedAt,
		LastUpdatedAt: r.LastUpdatedAt,
	}
}

func fromModel(m *model) *resource.Record {
	return &resource.Record{
		Id:            m.Id,
		Network:       m.Network,
		Symbol:        m.Symbol,
		Mint:          m.Mint,
		Decimals:      m.Decimals,
		Authority:     m.Authority,
		RunID:         m.RunID,
		CreatedAt:     m.CreatedAt,
		LastUpdatedAt: m.LastUpdatedAt,
	}
}
