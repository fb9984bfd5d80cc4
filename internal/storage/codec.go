package storage

import (
	"encoding/json"
	"fmt"
	"io"

	"carcrawler/internal/domain"
)

// Codec serializes a batch to a single file.
type Codec interface {
	// Ext is the file extension including the dot.
	Ext() string
	Encode(w io.Writer, records []domain.Listing) error
	Decode(r io.Reader) ([]domain.Listing, error)
}

// JSONCodec stores a batch as a JSON array.
type JSONCodec struct{}

func (JSONCodec) Ext() string { return ".json" }

func (JSONCodec) Encode(w io.Writer, records []domain.Listing) error {
	if records == nil {
		records = []domain.Listing{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	return nil
}

func (JSONCodec) Decode(r io.Reader) ([]domain.Listing, error) {
	var records []domain.Listing
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return records, nil
}
