// services/export.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"staking-reward-ledger/logging"
)

// ObjectStore receives ledger exports.
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// LedgerExporter writes one JSON-lines file of settled claims per day.
type LedgerExporter struct {
	ledger RewardLedger
	store  ObjectStore
	prefix string
}

func NewLedgerExporter(ledger RewardLedger, store ObjectStore) *LedgerExporter {
	return &LedgerExporter{ledger: ledger, store: store, prefix: "ledger-exports/claims"}
}

// ExportDay uploads the claims settled during day's UTC date and returns
// the object key. An empty day uploads nothing and returns "".
func (e *LedgerExporter) ExportDay(ctx context.Context, day time.Time) (string, int, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	claims, err := e.ledger.ListSettledClaims(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return "", 0, err
	}
	if len(claims) == 0 {
		return "", 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range claims {
		if err := enc.Encode(&claims[i]); err != nil {
			return "", 0, fmt.Errorf("encode claim %s: %w", claims[i].ID, err)
		}
	}

	key := fmt.Sprintf("%s/%s.jsonl", e.prefix, from.Format(dayLayout))
	if _, err := e.store.PutObject(ctx, key, "application/x-ndjson", buf.Bytes()); err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}
	logging.InfoContext(ctx, "ledger export uploaded", "key", key, "claims", len(claims))
	return key, len(claims), nil
}
