package cost

import (
	"context"
	"sort"
	"strings"

	"sales-sync/internal/models"
	"sales-sync/internal/util"

	"go.uber.org/zap"
)

// Resolution steps, in fallback order.
const (
	SourceCache      = "cache"
	SourceDirect     = "direct"
	SourceBase       = "base"
	SourceNormalized = "normalized"
	SourceBarcode    = "barcode"
	SourcePrefix     = "prefix"
)

// Resolution is a successfully resolved acquisition cost. A nil Resolution
// means unresolved; the cost is never fabricated.
type Resolution struct {
	UnitCost float64
	Source   string
}

// ProductLookup is the slice of the ledger store the resolver needs.
type ProductLookup interface {
	GetProductBySKU(ctx context.Context, sku string) (*models.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*models.Product, error)
	ListProductSKUs(ctx context.Context) ([]string, error)
}

// Resolver maps a sold item to its acquisition cost via a SKU/barcode
// fallback chain: exact SKU, normalized SKU variants, barcode, then
// variant-prefix rewrite. The redis cache fronts every store lookup.
type Resolver struct {
	cache    CostCache
	products ProductLookup
	prefixes []string
	logger   *zap.Logger
}

func NewResolver(cache CostCache, products ProductLookup) *Resolver {
	return &Resolver{
		cache:    cache,
		products: products,
		logger:   util.NamedLogger("cost.resolver"),
	}
}

// LoadPrefixes discovers seasonal variant prefixes ("BYK-24Y", ...) from the
// product catalog, ordered by frequency. Called once before a sync run.
func (r *Resolver) LoadPrefixes(ctx context.Context) error {
	skus, err := r.products.ListProductSKUs(ctx)
	if err != nil {
		return err
	}
	r.prefixes = DiscoverVariantPrefixes(skus)
	r.logger.Info("Variant prefixes discovered", zap.Int("count", len(r.prefixes)))
	return nil
}

// Resolve walks the fallback chain. Returns nil when no step matches; the
// caller records the miss, it is never coerced to zero.
func (r *Resolver) Resolve(ctx context.Context, sku, barcode string) (*Resolution, error) {
	if sku == "" && barcode == "" {
		util.CostUnresolvedTotal.Inc()
		return nil, nil
	}

	if entry, err := r.cache.Get(ctx, sku); err != nil {
		return nil, err
	} else if entry != nil {
		util.CostCacheHitsTotal.Inc()
		util.CostResolvedTotal.WithLabelValues(SourceCache).Inc()
		return &Resolution{UnitCost: entry.Cost, Source: SourceCache}, nil
	}
	util.CostCacheMissesTotal.Inc()

	// 1. exact SKU, then the base SKU extracted from the variant form
	if res, err := r.lookup(ctx, sku, sku, SourceDirect); res != nil || err != nil {
		return res, err
	}
	base := ExtractBaseSKU(sku)
	if base != "" && base != sku {
		if res, err := r.lookup(ctx, base, sku, SourceBase); res != nil || err != nil {
			return res, err
		}
	}

	// 2. format-normalized variants (leading zeros, S prefix)
	for _, variant := range NormalizeSKUVariants(sku) {
		if variant == sku {
			continue
		}
		if res, err := r.lookup(ctx, variant, sku, SourceNormalized); res != nil || err != nil {
			return res, err
		}
	}

	// 3. barcode
	if barcode != "" {
		if entry, err := r.cache.GetByBarcode(ctx, barcode); err != nil {
			return nil, err
		} else if entry != nil {
			util.CostResolvedTotal.WithLabelValues(SourceBarcode).Inc()
			return &Resolution{UnitCost: entry.Cost, Source: SourceBarcode}, nil
		}
		product, err := r.products.GetProductByBarcode(ctx, barcode)
		if err != nil {
			return nil, err
		}
		if product != nil {
			r.writeThrough(ctx, sku, product)
			util.CostResolvedTotal.WithLabelValues(SourceBarcode).Inc()
			return &Resolution{UnitCost: product.PurchasePriceWithVAT, Source: SourceBarcode}, nil
		}
	}

	// 4. variant-prefix rewrite: the sold variant may carry a different
	// season prefix than the catalog entry
	if base != "" && base != sku {
		for _, prefix := range r.prefixes {
			if res, err := r.lookup(ctx, prefix+"-"+base, sku, SourcePrefix); res != nil || err != nil {
				return res, err
			}
		}
	}

	util.CostUnresolvedTotal.Inc()
	r.logger.Debug("Cost unresolved", zap.String("sku", sku), zap.String("barcode", barcode))
	return nil, nil
}

func (r *Resolver) lookup(ctx context.Context, lookupSKU, soldSKU, source string) (*Resolution, error) {
	product, err := r.products.GetProductBySKU(ctx, lookupSKU)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, nil
	}
	r.writeThrough(ctx, soldSKU, product)
	util.CostResolvedTotal.WithLabelValues(source).Inc()
	return &Resolution{UnitCost: product.PurchasePriceWithVAT, Source: source}, nil
}

// writeThrough caches a store hit under the SKU that was actually sold so
// the next run of the same variant resolves from cache directly.
func (r *Resolver) writeThrough(ctx context.Context, soldSKU string, product *models.Product) {
	if soldSKU == "" {
		soldSKU = product.SKU
	}
	err := r.cache.Put(ctx, CacheEntry{
		SKU:     soldSKU,
		Barcode: product.Barcode,
		Name:    product.Name,
		Cost:    product.PurchasePriceWithVAT,
	})
	if err != nil {
		r.logger.Warn("Cost cache write-through failed", zap.String("sku", soldSKU), zap.Error(err))
	}
}

// ExtractBaseSKU pulls the catalog SKU out of a sales-variant SKU.
//
//	BYK-25K-303760-M41-R15 -> 303760
//	BYK-25Y-304177         -> BYK-25Y-304177 (already a catalog SKU)
//	194938-M41-R15         -> 194938
//	322685                 -> 322685
func ExtractBaseSKU(variantSKU string) string {
	sku := strings.TrimSpace(variantSKU)
	if sku == "" {
		return ""
	}
	parts := strings.Split(sku, "-")

	if strings.HasPrefix(sku, "BYK-") {
		switch {
		case len(parts) >= 4:
			return parts[2]
		default:
			return sku
		}
	}

	if len(parts) >= 3 {
		first := parts[0]
		if len(first) >= 5 && isDigits(first) {
			return first
		}
	}
	return sku
}

// NormalizeSKUVariants returns the format-normalized forms of a SKU:
// the original, the S-prefix stripped form, and the leading-zero stripped
// form ("S00004064" -> "00004064" -> "4064").
func NormalizeSKUVariants(sku string) []string {
	if sku == "" {
		return nil
	}
	seen := map[string]bool{sku: true}
	variants := []string{sku}

	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	if strings.HasPrefix(sku, "S") {
		withoutS := sku[1:]
		add(withoutS)
		if isDigits(withoutS) {
			add(stripLeadingZeros(withoutS))
		}
	}
	if isDigits(sku) {
		add(stripLeadingZeros(sku))
	}
	return variants
}

// DiscoverVariantPrefixes counts "BYK-<season>" prefixes across catalog SKUs
// and returns the top 20 ordered by frequency.
func DiscoverVariantPrefixes(skus []string) []string {
	counts := make(map[string]int)
	for _, sku := range skus {
		if !strings.HasPrefix(sku, "BYK-") {
			continue
		}
		parts := strings.Split(sku, "-")
		if len(parts) >= 3 {
			counts[parts[0]+"-"+parts[1]]++
		}
	}

	prefixes := make([]string, 0, len(counts))
	for prefix := range counts {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if counts[prefixes[i]] != counts[prefixes[j]] {
			return counts[prefixes[i]] > counts[prefixes[j]]
		}
		return prefixes[i] < prefixes[j]
	})

	if len(prefixes) > 20 {
		prefixes = prefixes[:20]
	}
	return prefixes
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func stripLeadingZeros(s string) string {
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
