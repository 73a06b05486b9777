package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

// catalogFile is the YAML layout of a promotion catalog.
type catalogFile struct {
	Promotions []catalogEntry `yaml:"promotions"`
}

type catalogEntry struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Status     string            `yaml:"status"`
	Priority   int               `yaml:"priority"`
	Code       string            `yaml:"code"`
	VisualRef  string            `yaml:"visual_ref"`
	Conditions catalogConditions `yaml:"conditions"`
	Discount   catalogDiscount   `yaml:"discount"`
}

type catalogConditions struct {
	MinOrderAmount   int64      `yaml:"min_order_amount"`
	MaxOrderAmount   int64      `yaml:"max_order_amount"`
	MinItems         int        `yaml:"min_items"`
	MaxItems         int        `yaml:"max_items"`
	OrderTypes       []string   `yaml:"order_types"`
	ProductIDs       []string   `yaml:"product_ids"`
	CategoryIDs      []string   `yaml:"category_ids"`
	DaysOfWeek       []int      `yaml:"days_of_week"`
	TimeStart        string     `yaml:"time_start"`
	TimeEnd          string     `yaml:"time_end"`
	StartDate        *time.Time `yaml:"start_date"`
	EndDate          *time.Time `yaml:"end_date"`
	UsageLimit       int        `yaml:"usage_limit"`
	PerCustomerLimit int        `yaml:"per_customer_limit"`
	FirstOrderOnly   bool       `yaml:"first_order_only"`
	Rule             string     `yaml:"rule"`
}

type catalogDiscount struct {
	Type        string   `yaml:"type"`
	Value       string   `yaml:"value"`
	Scope       string   `yaml:"scope"`
	ProductIDs  []string `yaml:"product_ids"`
	CategoryIDs []string `yaml:"category_ids"`
	MaxAmount   int64    `yaml:"max_amount"`
	BuyQuantity int      `yaml:"buy_quantity"`
	GetQuantity int      `yaml:"get_quantity"`
}

func (e catalogEntry) record() (promotion.Record, error) {
	r := promotion.Record{
		ID:        e.ID,
		Name:      e.Name,
		Kind:      e.Kind,
		Status:    e.Status,
		Priority:  e.Priority,
		Code:      e.Code,
		VisualRef: e.VisualRef,

		MinOrderAmount:   e.Conditions.MinOrderAmount,
		MaxOrderAmount:   e.Conditions.MaxOrderAmount,
		MinItems:         e.Conditions.MinItems,
		MaxItems:         e.Conditions.MaxItems,
		OrderTypes:       e.Conditions.OrderTypes,
		ProductIDs:       e.Conditions.ProductIDs,
		CategoryIDs:      e.Conditions.CategoryIDs,
		DaysOfWeek:       e.Conditions.DaysOfWeek,
		TimeStart:        e.Conditions.TimeStart,
		TimeEnd:          e.Conditions.TimeEnd,
		StartDate:        e.Conditions.StartDate,
		EndDate:          e.Conditions.EndDate,
		UsageLimit:       e.Conditions.UsageLimit,
		PerCustomerLimit: e.Conditions.PerCustomerLimit,
		FirstOrderOnly:   e.Conditions.FirstOrderOnly,
		Rule:             e.Conditions.Rule,

		DiscountType:        e.Discount.Type,
		DiscountScope:       e.Discount.Scope,
		DiscountProductIDs:  e.Discount.ProductIDs,
		DiscountCategoryIDs: e.Discount.CategoryIDs,
		MaxDiscountAmount:   e.Discount.MaxAmount,
		BuyQuantity:         e.Discount.BuyQuantity,
		GetQuantity:         e.Discount.GetQuantity,
	}
	if e.Discount.Value != "" {
		v, err := decimal.NewFromString(e.Discount.Value)
		if err != nil {
			return promotion.Record{}, errors.Wrapf(err, "promotion %q: discount value", e.ID)
		}
		r.DiscountValue = v
	}
	return r, nil
}

// loadCatalog reads a YAML catalog from path. Files ending in .gz are
// decompressed first.
func loadCatalog(path string) ([]promotion.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	records, err := decodeCatalog(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return records, nil
}

// decodeCatalog parses a catalog. Unknown fields, duplicate ids and
// unparsable discount values are errors; semantic validation is left to
// promotion.Normalize.
func decodeCatalog(r io.Reader) ([]promotion.Record, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "parse yaml")
	}

	seen := make(map[string]struct{}, len(file.Promotions))
	records := make([]promotion.Record, 0, len(file.Promotions))
	for _, e := range file.Promotions {
		if _, dup := seen[e.ID]; dup {
			return nil, errors.Errorf("duplicate promotion id %q", e.ID)
		}
		seen[e.ID] = struct{}{}

		rec, err := e.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// partition splits records into those that normalize cleanly and the
// errors of those that do not.
func partition(records []promotion.Record) (valid []promotion.Record, skipped []error) {
	for _, r := range records {
		if _, err := promotion.Normalize(r); err != nil {
			skipped = append(skipped, err)
			continue
		}
		valid = append(valid, r)
	}
	return valid, skipped
}
