// services/sse_reward_service.go
package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/logging"
)

// RewardStreamer pushes a wallet's new reward records as server-sent events.
type RewardStreamer struct {
	ledger   RewardLedger
	interval time.Duration
}

func NewRewardStreamer(ledger RewardLedger, interval time.Duration) *RewardStreamer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &RewardStreamer{ledger: ledger, interval: interval}
}

// Stream writes an event per record credited after the stream opened.
func (s *RewardStreamer) Stream(c *fiber.Ctx, wallet string) error {
	if _, err := validateWallet(wallet); err != nil {
		return err
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		cursor := time.Now().UTC()
		ctx := context.Background()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				records, err := s.ledger.ListSince(ctx, wallet, cursor)
				if err != nil {
					logging.Warn("reward stream query failed", logging.Wallet(wallet), logging.Err(err))
					continue
				}
				if len(records) == 0 {
					w.WriteString(":\n\n")
				}
				for _, r := range records {
					payload, err := json.Marshal(r)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "id: %s\nevent: reward\ndata: %s\n\n", r.ID, payload)
					cursor = r.CreatedAt
				}
				if err := w.Flush(); err != nil {
					// client disconnected
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}
