package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// BlobVersion is the current model blob format.
const BlobVersion = 1

// Blob is the persisted form of a model together with its training metadata.
type Blob struct {
	Version        int       `json:"version"`
	Kind           string    `json:"kind"`
	Trained        bool      `json:"trained"`
	FeatureColumns []string  `json:"feature_columns"`
	Accuracy       float64   `json:"accuracy"`
	TrainedAt      time.Time `json:"trained_at"`
	TrainedOn      int       `json:"trained_on"`
	Params         *Model    `json:"params,omitempty"`
}

// Encode serializes b.
func (b *Blob) Encode() ([]byte, error) {
	if b.Version == 0 {
		b.Version = BlobVersion
	}
	return json.MarshalIndent(b, "", "  ")
}

// DecodeBlob parses and validates a blob. A trained blob must carry
// parameters whose shape matches its feature columns.
func DecodeBlob(data []byte) (*Blob, error) {
	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode model blob: %w", err)
	}
	if b.Version != BlobVersion {
		return nil, fmt.Errorf("unsupported model blob version %d", b.Version)
	}
	if !b.Trained {
		return &b, nil
	}
	if b.Params == nil {
		return nil, errors.New("trained blob has no parameters")
	}
	if err := b.Params.Validate(); err != nil {
		return nil, err
	}
	if len(b.FeatureColumns) != b.Params.Dim() {
		return nil, fmt.Errorf("blob lists %d columns but has %d weights", len(b.FeatureColumns), b.Params.Dim())
	}
	return &b, nil
}

// SameColumns reports whether the blob columns equal want, in order.
func (b *Blob) SameColumns(want []string) bool {
	return slices.Equal(b.FeatureColumns, want)
}
