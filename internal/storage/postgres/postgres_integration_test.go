//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/oolio-promotions/internal/domain/order"
	"github.com/xenking/oolio-promotions/internal/domain/promotion"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "promo",
				"POSTGRES_PASSWORD": "promo",
				"POSTGRES_DB":       "promo",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = c.Terminate(context.Background()) }()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://promo:promo@%s:%s/promo?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// Migrations must be re-runnable on every start.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("second migration run: %v", err)
	}

	return m.Run()
}

func upsert(t *testing.T, repo *PromotionRepository, recs ...promotion.Record) {
	t.Helper()
	for _, rec := range recs {
		require.NoError(t, repo.Upsert(context.Background(), rec))
	}
}

func TestPromotionRepository_ListActive(t *testing.T) {
	ctx := context.Background()
	repo := NewPromotionRepository(testPool)
	prefix := uuid.NewString()[:8] + "-"

	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	upsert(t, repo,
		promotion.Record{
			ID: prefix + "pct", Name: "Ten", Kind: "percentage", Status: "active", Priority: 2,
			OrderTypes: []string{"delivery"}, DaysOfWeek: []int{1, 5}, TimeStart: "10:00", TimeEnd: "22:00",
			EndDate: &end, Rule: `subtotal > 0`,
			DiscountType: "percentage", DiscountValue: decimal.RequireFromString("12.5"), MaxDiscountAmount: 2000,
		},
		promotion.Record{ID: prefix + "off", Name: "Off", Kind: "fixed_amount", Status: "inactive", DiscountValue: decimal.NewFromInt(100)},
		promotion.Record{ID: prefix + "bad", Name: "Bad", Kind: "buy_x_get_y", Status: "active"},
	)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)

	byID := make(map[string]promotion.Promotion)
	for _, p := range active {
		byID[p.ID] = p
	}
	require.Contains(t, byID, prefix+"pct")
	assert.NotContains(t, byID, prefix+"off")
	assert.NotContains(t, byID, prefix+"bad")

	p := byID[prefix+"pct"]
	assert.Equal(t, []promotion.OrderType{promotion.OrderTypeDelivery}, p.Conditions.OrderTypes)
	assert.Equal(t, []time.Weekday{time.Monday, time.Friday}, p.Conditions.DaysOfWeek)
	require.NotNil(t, p.Conditions.EndDate)
	assert.True(t, end.Equal(*p.Conditions.EndDate))
	assert.Equal(t, "subtotal > 0", p.Conditions.Rule.Source())

	d, ok := p.Discount.(promotion.PercentageDiscount)
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("12.5").Equal(d.Percent))
	assert.Equal(t, int64(2000), d.MaxAmount)
}

func TestPromotionRepository_FindByCode(t *testing.T) {
	ctx := context.Background()
	repo := NewPromotionRepository(testPool)
	code := "WELCOME-" + uuid.NewString()[:8]

	upsert(t, repo, promotion.Record{
		ID: code, Name: "Welcome", Kind: "promo_code", Status: "active", Code: code,
		DiscountType: "fixed_amount", DiscountValue: decimal.NewFromInt(500),
	})

	p, err := repo.FindByCode(ctx, code)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, promotion.FixedAmountDiscount{Amount: 500}, p.Discount)

	lower, err := repo.FindByCode(ctx, "welcome-"+code[len("WELCOME-"):])
	require.NoError(t, err)
	assert.Nil(t, lower)

	missing, err := repo.FindByCode(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPromotionRepository_FindByID(t *testing.T) {
	ctx := context.Background()
	repo := NewPromotionRepository(testPool)
	id := "inactive-" + uuid.NewString()[:8]

	upsert(t, repo, promotion.Record{ID: id, Name: "Later", Kind: "free_shipping", Status: "scheduled"})

	p, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, promotion.StatusScheduled, p.Status)

	missing, err := repo.FindByID(ctx, "unknown-"+id)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPromotionRepository_RecordUsage(t *testing.T) {
	ctx := context.Background()
	repo := NewPromotionRepository(testPool)
	id := "limited-" + uuid.NewString()[:8]

	upsert(t, repo, promotion.Record{
		ID: id, Name: "Limited", Kind: "fixed_amount", Status: "active",
		UsageLimit: 3, DiscountValue: decimal.NewFromInt(100),
	})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		limited int
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.RecordUsage(ctx, promotion.Usage{
				ID:             uuid.NewString(),
				PromotionID:    id,
				OrderID:        fmt.Sprintf("order-%d", i),
				CustomerID:     "c-1",
				DiscountAmount: 100,
				UsedAt:         time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case assert.ErrorIs(t, err, promotion.ErrUsageLimitReached):
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, success)
	assert.Equal(t, 7, limited)

	p, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.UsageCount)

	n, err := repo.CountCustomerUsage(ctx, id, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = repo.CountCustomerUsage(ctx, id, "c-2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPromotionRepository_RecordUsageUnknown(t *testing.T) {
	repo := NewPromotionRepository(testPool)

	err := repo.RecordUsage(context.Background(), promotion.Usage{PromotionID: "ghost", OrderID: "o"})
	assert.ErrorIs(t, err, promotion.ErrNotFound)
}

func TestOrderRepository_Create(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)

	o := &order.Order{
		ID:        uuid.NewString(),
		OrderType: promotion.OrderTypePickup,
		Items: []promotion.Item{
			{ProductID: "quillero-1", UnitPrice: 30000, Quantity: 2},
		},
		AppliedPromotions: []promotion.AppliedPromotion{
			{PromotionID: "2x1", Name: "2x1", Kind: promotion.KindBuyXGetY, DiscountAmount: 30000},
		},
		Subtotal:      60000,
		TotalDiscount: 30000,
		Total:         30000,
		GrandTotal:    30000,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, repo.Create(ctx, o))

	var (
		total   int64
		applied []byte
	)
	require.NoError(t, testPool.QueryRow(ctx,
		`SELECT total, applied_promotions::text FROM orders WHERE id = $1`, uuid.MustParse(o.ID),
	).Scan(&total, &applied))
	assert.Equal(t, int64(30000), total)
	assert.Contains(t, string(applied), `"2x1"`)
}
