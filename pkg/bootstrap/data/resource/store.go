package resource

import (
	"context"
	"errors"
	"time"

	"github.com/mr-tron/base58"
)

var (
	ErrNotFound = errors.New("resource record not found")
)

// Record is a token mint created by a bootstrap run on a given network.
type Record struct {
	Id            uint64
	Network       string
	Symbol        string
	Mint          string
	Decimals      uint8
	Authority     string
	RunID         string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

type Store interface {
	// Save creates or replaces the record for (Network, Symbol).
	Save(ctx context.Context, record *Record) error

	// Get returns the record for the symbol on the network, or ErrNotFound.
	Get(ctx context.Context, network, symbol string) (*Record, error)

	// GetAllByNetwork returns every record on the network ordered by symbol.
	GetAllByNetwork(ctx context.Context, network string) ([]*Record, error)

	Delete(ctx context.Context, network, symbol string) error
}

func (r *Record) Validate() error {
	if len(r.Network) == 0 {
		return errors.New("network is required")
	}

	if len(r.Symbol) == 0 {
		return errors.New("symbol is required")
	}

	if !isPublicKey(r.Mint) {
		return errors.New("mint must be a base58 encoded public key")
	}

	if !isPublicKey(r.Authority) {
		return errors.New("authority must be a base58 encoded public key")
	}

	return nil
}

func (r *Record) Clone() Record {
	return Record{
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

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id
	dst.Network = r.Network
	dst.Symbol = r.Symbol
	dst.Mint = r.Mint
	dst.Decimals = r.Decimals
	dst.Authority = r.Authority
	dst.RunID = r.RunID
	dst.CreatedAt = r.CreatedAt
	dst.LastUpdatedAt = r.LastUpdatedAt
}

func isPublicKey(s string) bool {
	decoded, err := base58.Decode(s)
	return err == nil && len(decoded) == 32
}
