package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quantfold/flipbot/internal/domain"
)

// Uploader stores one object. Client implements it against S3.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// Upload puts a single object into the configured bucket.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

var _ Uploader = (*Client)(nil)

// Archiver periodically snapshots old finalized trades into the object store.
// Trade rows stay in the database; the archive is an export, not a purge.
type Archiver struct {
	trades    domain.TradeStore
	uploader  Uploader
	retention time.Duration
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

func NewArchiver(trades domain.TradeStore, uploader Uploader, retention, interval time.Duration, batchSize int, logger *slog.Logger) *Archiver {
	return &Archiver{
		trades:    trades,
		uploader:  uploader,
		retention: retention,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.Archive(ctx); err != nil {
				a.logger.WarnContext(ctx, "archive pass failed", slog.Any("error", err))
			} else if n > 0 {
				a.logger.InfoContext(ctx, "trades archived", slog.Int("count", n))
			}
		}
	}
}

// archivedTrade is the export shape of one trade.
type archivedTrade struct {
	ID             string     `json:"id"`
	MarketID       string     `json:"market_id"`
	MarketName     string     `json:"market_name"`
	Side           string     `json:"side"`
	Strategy       string     `json:"strategy"`
	EntryPrice     float64    `json:"entry_price"`
	ExitPrice      *float64   `json:"exit_price"`
	SizeEUR        float64    `json:"size_eur"`
	RealizedPnLEUR *float64   `json:"realized_pnl_eur"`
	HVS            float64    `json:"hvs"`
	FlipEV         float64    `json:"flip_ev"`
	Status         string     `json:"status"`
	CloseReason    string     `json:"close_reason"`
	ExecutionRef   string     `json:"execution_ref"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at"`
}

// Archive exports finalized trades older than the retention window as one
// JSON object keyed by the pass date. Rerunning a pass overwrites the same
// key with the same content, so retries are harmless.
func (a *Archiver) Archive(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	trades, err := a.trades.ListClosedBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("archiver: list closed trades: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	export := make([]archivedTrade, 0, len(trades))
	for _, t := range trades {
		export = append(export, archivedTrade{
			ID:             t.ID,
			MarketID:       t.MarketID,
			MarketName:     t.MarketName,
			Side:           string(t.Side),
			Strategy:       string(t.Strategy),
			EntryPrice:     t.EntryPrice,
			ExitPrice:      t.ExitPrice,
			SizeEUR:        t.SizeEUR,
			RealizedPnLEUR: t.RealizedPnLEUR,
			HVS:            t.HVS,
			FlipEV:         t.FlipEV,
			Status:         string(t.Status),
			CloseReason:    t.CloseReason,
			ExecutionRef:   t.ExecutionRef,
			OpenedAt:       t.OpenedAt,
			ClosedAt:       t.ClosedAt,
		})
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("archiver: marshal trades: %w", err)
	}

	key := fmt.Sprintf("trades/%s.json", time.Now().UTC().Format("2006-01-02"))
	if err := a.uploader.Upload(ctx, key, data, "application/json"); err != nil {
		return 0, fmt.Errorf("archiver: upload %s: %w", key, err)
	}
	return len(export), nil
}
