// Copyright (c) 2026 Runway Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package receipts provides the Postgres-backed store for receipts and
// line items. The two-tier dedupe index lives here as uniqueness
// constraints: (account_id, raw_message_id) and, among non-null hashes,
// (account_id, dedupe_hash).
package receipts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runwayhq/ingestion/internal/models"
	"github.com/runwayhq/ingestion/internal/pgutil"
)

// Store provides receipt and line item persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a receipt store backed by the given Postgres pool.
// It ensures the receipts and line_items tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure receipt schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS receipts (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			contributor      TEXT NOT NULL,
			retailer         TEXT NOT NULL,
			transaction_date TEXT NOT NULL,
			subtotal         DOUBLE PRECISION,
			tax              DOUBLE PRECISION,
			total            DOUBLE PRECISION,
			order_number     TEXT,
			raw_message_id   TEXT NOT NULL,
			dedupe_hash      TEXT,
			parsed_at        TIMESTAMPTZ,
			created_at       TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, raw_message_id)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_receipts_account_dedupe_hash
			ON receipts(account_id, dedupe_hash) WHERE dedupe_hash IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_receipts_account_date
			ON receipts(account_id, transaction_date);
		CREATE INDEX IF NOT EXISTS idx_receipts_contributor_date
			ON receipts(contributor, transaction_date);

		CREATE TABLE IF NOT EXISTS line_items (
			id              BIGSERIAL PRIMARY KEY,
			receipt_id      TEXT NOT NULL REFERENCES receipts(id),
			raw_name        TEXT NOT NULL,
			name            TEXT NOT NULL,
			quantity        INTEGER NOT NULL DEFAULT 1,
			unit_price      DOUBLE PRECISION NOT NULL,
			total_price     DOUBLE PRECISION NOT NULL,
			category        TEXT NOT NULL DEFAULT '',
			subcategory     TEXT,
			confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
			user_overridden BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_line_items_receipt ON line_items(receipt_id);
	`)
	return err
}

// ExistsByMessageID reports whether the account already has a receipt for
// the external message id (primary dedupe tier).
func (s *Store) ExistsByMessageID(ctx context.Context, accountID, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM receipts WHERE account_id = $1 AND raw_message_id = $2
		)
	`, accountID, messageID).Scan(&exists)
	return exists, err
}

// ExistsByHash reports whether the account already has a receipt with the
// heuristic dedupe hash (secondary tier).
func (s *Store) ExistsByHash(ctx context.Context, accountID, hash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM receipts WHERE account_id = $1 AND dedupe_hash = $2
		)
	`, accountID, hash).Scan(&exists)
	return exists, err
}

// InsertSkeleton inserts a scan-time receipt with identifying fields set
// and totals null. A duplicate-key violation (another scan racing this
// one) is reported as inserted=false, not as an error.
func (s *Store) InsertSkeleton(ctx context.Context, r models.Receipt) (bool, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO receipts (id, account_id, contributor, retailer, transaction_date, raw_message_id, dedupe_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.AccountID, r.Contributor, r.Retailer, r.TransactionDate, r.RawMessageID, r.DedupeHash)
	if pgutil.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert skeleton receipt: %w", err)
	}
	return true, nil
}

// UnparsedReceipt identifies a skeleton receipt awaiting extraction.
type UnparsedReceipt struct {
	ID           string
	RawMessageID string
	Retailer     string
}

// ListUnparsed returns the account's skeleton receipts contributed by the
// given identity, oldest first.
func (s *Store) ListUnparsed(ctx context.Context, accountID, contributor string) ([]UnparsedReceipt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, raw_message_id, retailer
		FROM receipts
		WHERE account_id = $1 AND contributor = $2 AND parsed_at IS NULL
		ORDER BY created_at ASC
	`, accountID, contributor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []UnparsedReceipt
	for rows.Next() {
		var r UnparsedReceipt
		if err := rows.Scan(&r.ID, &r.RawMessageID, &r.Retailer); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// ParsedUpdate carries the validated extraction output for one receipt.
type ParsedUpdate struct {
	TransactionDate string
	Subtotal        *float64
	Tax             *float64
	Total           float64
	OrderNumber     *string
	Items           []models.LineItem
}

// MarkParsed commits a receipt's extraction atomically: transaction fields
// plus parsed_at on the receipt, and all line items with empty category.
// The parsed_at IS NULL guard makes the skeleton→parsed transition happen
// exactly once even under concurrent extraction runs. Returns false when
// another run already parsed the receipt.
func (s *Store) MarkParsed(ctx context.Context, receiptID string, u ParsedUpdate) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin parse tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE receipts
		SET transaction_date = $2, subtotal = $3, tax = $4, total = $5,
		    order_number = $6, parsed_at = NOW()
		WHERE id = $1 AND parsed_at IS NULL
	`, receiptID, u.TransactionDate, u.Subtotal, u.Tax, u.Total, u.OrderNumber)
	if err != nil {
		return false, fmt.Errorf("update parsed receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already parsed by another run; nothing to commit.
		return false, nil
	}

	for _, item := range u.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO line_items
				(receipt_id, raw_name, name, quantity, unit_price, total_price, category, subcategory, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, '', NULL, $7)
		`, receiptID, item.RawName, item.Name, item.Quantity, item.UnitPrice, item.TotalPrice, item.Confidence); err != nil {
			return false, fmt.Errorf("insert line item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// UncategorizedItem is a line item awaiting category assignment.
type UncategorizedItem struct {
	ID   int64
	Name string
}

// ListUncategorized returns the account's line items with an empty
// category, oldest first.
func (s *Store) ListUncategorized(ctx context.Context, accountID string) ([]UncategorizedItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT li.id, li.name
		FROM line_items li
		JOIN receipts r ON r.id = li.receipt_id
		WHERE r.account_id = $1 AND li.category = ''
		ORDER BY li.id ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []UncategorizedItem
	for rows.Next() {
		var it UncategorizedItem
		if err := rows.Scan(&it.ID, &it.Name); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CategoryUpdate is one resolved assignment within a batch.
type CategoryUpdate struct {
	ItemID      int64
	Category    string
	Subcategory *string
	Confidence  float64
}

// ApplyCategoryBatch persists a batch's assignments in one transaction,
// issued only after all of the batch's external calls have resolved.
// Items a human overrode while the batch was in flight are left alone.
func (s *Store) ApplyCategoryBatch(ctx context.Context, updates []CategoryUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin category tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if _, err := tx.Exec(ctx, `
			UPDATE line_items
			SET category = $2, subcategory = $3, confidence = $4
			WHERE id = $1 AND user_overridden = FALSE
		`, u.ItemID, u.Category, u.Subcategory, u.Confidence); err != nil {
			return fmt.Errorf("update item category: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetItem returns a line item if it belongs to the account, else nil.
func (s *Store) GetItem(ctx context.Context, accountID string, itemID int64) (*models.LineItem, error) {
	var (
		it          models.LineItem
		subcategory *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT li.id, li.receipt_id, li.raw_name, li.name, li.quantity,
		       li.unit_price, li.total_price, li.category, li.subcategory,
		       li.confidence, li.user_overridden
		FROM line_items li
		JOIN receipts r ON r.id = li.receipt_id
		WHERE li.id = $1 AND r.account_id = $2
	`, itemID, accountID).Scan(&it.ID, &it.ReceiptID, &it.RawName, &it.Name,
		&it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.Category, &subcategory,
		&it.Confidence, &it.UserOverridden)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.Subcategory = subcategory
	return &it, nil
}

// OverrideCategory applies a human correction: category and subcategory
// set, confidence 1.0, user_overridden flagged. Overridden items never
// reappear in the review queue.
func (s *Store) OverrideCategory(ctx context.Context, itemID int64, category string, subcategory *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE line_items
		SET category = $2, subcategory = $3, confidence = 1.0, user_overridden = TRUE
		WHERE id = $1
	`, itemID, category, subcategory)
	return err
}

// DismissReview flags an item as humanly resolved without changing its
// category or confidence. The item leaves the review queue for good.
func (s *Store) DismissReview(ctx context.Context, itemID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE line_items
		SET user_overridden = TRUE
		WHERE id = $1
	`, itemID)
	return err
}

// ListByContributors returns the account's receipts restricted to the
// given contributor identities, most recent first, within the day window.
// Skeleton receipts (no items yet) are excluded.
func (s *Store) ListByContributors(ctx context.Context, accountID string, contributors []string, days int, ownerIdentity string) ([]models.ReceiptSummary, error) {
	if len(contributors) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.retailer, r.transaction_date, r.subtotal, r.tax, r.total,
		       r.order_number, r.contributor, COUNT(li.id) AS item_count
		FROM receipts r
		LEFT JOIN line_items li ON li.receipt_id = r.id
		WHERE r.account_id = $1
		  AND r.contributor = ANY($2)
		  AND r.transaction_date >= to_char(NOW() - make_interval(days => $3), 'YYYY-MM-DD')
		GROUP BY r.id
		HAVING COUNT(li.id) > 0
		ORDER BY r.transaction_date DESC
	`, accountID, contributors, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ReceiptSummary
	for rows.Next() {
		var sum models.ReceiptSummary
		if err := rows.Scan(&sum.ID, &sum.Retailer, &sum.TransactionDate, &sum.Subtotal,
			&sum.Tax, &sum.Total, &sum.OrderNumber, &sum.Contributor, &sum.ItemCount); err != nil {
			return nil, err
		}
		sum.ContributorRole = "member"
		if sum.Contributor == ownerIdentity {
			sum.ContributorRole = "owner"
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// ListReviewQueue returns the account's line items with confidence below
// the review threshold and no human resolution, lowest confidence first.
// The queue is a live query; there is no separate review storage.
func (s *Store) ListReviewQueue(ctx context.Context, accountID string) ([]models.ReviewItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT li.id, li.name, li.raw_name, li.category, li.subcategory, li.confidence,
		       li.quantity, li.unit_price, li.total_price, r.retailer, r.transaction_date
		FROM line_items li
		JOIN receipts r ON r.id = li.receipt_id
		WHERE r.account_id = $1
		  AND li.confidence < $2
		  AND li.user_overridden = FALSE
		ORDER BY li.confidence ASC
	`, accountID, models.ReviewThreshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.ReviewItem
	for rows.Next() {
		var it models.ReviewItem
		if err := rows.Scan(&it.ID, &it.Name, &it.RawName, &it.Category, &it.Subcategory,
			&it.Confidence, &it.Quantity, &it.UnitPrice, &it.TotalPrice,
			&it.Retailer, &it.TransactionDate); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
