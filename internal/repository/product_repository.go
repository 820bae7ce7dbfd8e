package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/marketsync/internal/db"
	"github.com/rpattn/marketsync/internal/domain"

	"github.com/jackc/pgx/v5"
)

const productInsertChunk = 500

const insertProductSQL = `INSERT INTO products
	(id, asin, locale, title, brand, category_id, category_name, listed_since,
	 sales_rank_current, buy_box_current, reviews_rating, reviews_count,
	 metrics, attributes, source, imported_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

type productRepository struct {
	conn *db.Connection
}

// NewProductRepository wires a repository backed by the shared connection.
func NewProductRepository(conn *db.Connection) ProductRepository {
	return &productRepository{conn: conn}
}

func (r *productRepository) BulkInsert(ctx context.Context, records []domain.ProductRecord, opts BulkInsertOptions) (int, error) {
	if r.conn == nil || r.conn.Pool == nil {
		return 0, fmt.Errorf("product repository not initialized")
	}
	if len(records) == 0 {
		return 0, nil
	}

	query := insertProductSQL
	if opts.IgnoreDuplicates {
		query += ` ON CONFLICT (asin, locale) DO NOTHING`
	}

	total := 0
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		for i := 0; i < len(records); i += productInsertChunk {
			j := i + productInsertChunk
			if j > len(records) {
				j = len(records)
			}

			b := &pgx.Batch{}
			for _, rec := range records[i:j] {
				metrics, err := rec.MetricsJSON()
				if err != nil {
					return fmt.Errorf("failed to encode metrics for %s: %w", rec.DedupKey(), err)
				}
				attributes, err := rec.AttributesJSON()
				if err != nil {
					return fmt.Errorf("failed to encode attributes for %s: %w", rec.DedupKey(), err)
				}
				b.Queue(query,
					rec.ID, rec.ASIN, string(rec.Locale), rec.Title, rec.Brand, rec.CategoryID, rec.CategoryName, rec.ListedSince,
					rec.Metric(domain.FieldSalesRankCurrent), rec.Metric(domain.FieldBuyBoxCurrent),
					rec.Metric(domain.FieldRating), rec.Metric(domain.FieldReviewCount),
					metrics, attributes, rec.Source, rec.ImportedAt,
				)
			}

			br := tx.SendBatch(ctx, b)
			for k := 0; k < b.Len(); k++ {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return fmt.Errorf("failed to insert product %s: %w", records[i+k].DedupKey(), err)
				}
				total += int(tag.RowsAffected())
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("failed to close product batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
