package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sales-sync/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductBySKU retrieves a product by SKU; nil means not found.
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductByBarcode retrieves a product by barcode; nil means not found.
func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT * FROM products WHERE barcode = $1 ORDER BY updated_at DESC LIMIT 1", barcode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProductSKUs returns every catalog SKU, for variant-prefix discovery.
func (s *Store) ListProductSKUs(ctx context.Context) ([]string, error) {
	var skus []string
	err := s.db.SelectContext(ctx, &skus, "SELECT sku FROM products WHERE sku <> ''")
	return skus, err
}

// UpsertProduct inserts or refreshes a catalog product by SKU.
func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (source_product_id, sku, name, brand, barcode,
			purchase_price, vat_rate, purchase_price_with_vat, sale_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sku) DO UPDATE SET
			name = EXCLUDED.name,
			brand = EXCLUDED.brand,
			barcode = EXCLUDED.barcode,
			purchase_price = EXCLUDED.purchase_price,
			vat_rate = EXCLUDED.vat_rate,
			purchase_price_with_vat = EXCLUDED.purchase_price_with_vat,
			sale_price = EXCLUDED.sale_price,
			updated_at = NOW()
		RETURNING id`

	return s.db.GetContext(ctx, &p.ID, query,
		p.SourceProductID, p.SKU, p.Name, p.Brand, p.Barcode,
		p.PurchasePrice, p.VATRate, p.PurchasePriceWithVAT, p.SalePrice)
}

// GetSyncState returns the singleton sync-state record, creating it on
// first use.
func (s *Store) GetSyncState(ctx context.Context) (*models.SyncState, error) {
	var state models.SyncState
	err := s.db.GetContext(ctx, &state, "SELECT * FROM sync_state WHERE id = 1")
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO sync_state (id, is_running) VALUES (1, FALSE) ON CONFLICT (id) DO NOTHING")
		if err != nil {
			return nil, err
		}
		return &models.SyncState{ID: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SetSyncRunning persists the running flag.
func (s *Store) SetSyncRunning(ctx context.Context, running bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (id, is_running) VALUES (1, $1)
		 ON CONFLICT (id) DO UPDATE SET is_running = $1, updated_at = NOW()`, running)
	return err
}

// SetLastSyncAt persists the completion time of a run of the given kind.
func (s *Store) SetLastSyncAt(ctx context.Context, kind string, at time.Time) error {
	column := "last_live_sync_at"
	if kind == "full" {
		column = "last_full_sync_at"
	}
	query := fmt.Sprintf(
		`UPDATE sync_state SET %s = $1, updated_at = NOW() WHERE id = 1`, column)
	_, err := s.db.ExecContext(ctx, query, at)
	return err
}
