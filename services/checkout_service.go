package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	payments "ticket-checkout/internal/services"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

const defaultMaxPerBuy = 10

var (
	ErrEmptyCatalog    = errors.New("catalog has no categories")
	ErrUnknownCategory = errors.New("unknown ticket category")
	ErrQuantity        = errors.New("invalid ticket quantity")
	ErrEmptySelection  = errors.New("no tickets selected")
)

// Catalog is the list of ticket categories on sale.
type Catalog struct {
	categories []models.TicketCategory
	byName     map[string]models.TicketCategory
}

// ParseCatalog reads "VIP:50.00,Pista:25.00". Category names are matched
// case-insensitively.
func ParseCatalog(raw string, maxPerBuy int) (*Catalog, error) {
	if maxPerBuy <= 0 {
		maxPerBuy = defaultMaxPerBuy
	}

	c := &Catalog{byName: make(map[string]models.TicketCategory)}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, price, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("catalog entry %q: expected name:price", part)
		}

		unitPrice, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", part, err)
		}
		if !unitPrice.IsPositive() {
			return nil, fmt.Errorf("catalog entry %q: price must be positive", part)
		}

		key := strings.ToLower(name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate category", part)
		}

		category := models.TicketCategory{Name: name, UnitPrice: unitPrice, MaxPerBuy: maxPerBuy}
		c.categories = append(c.categories, category)
		c.byName[key] = category
	}

	if len(c.categories) == 0 {
		return nil, ErrEmptyCatalog
	}
	return c, nil
}

func (c *Catalog) Categories() []models.TicketCategory {
	return append([]models.TicketCategory(nil), c.categories...)
}

// BuildLineItems prices a selection. Repeated categories are merged and
// items come out in catalog order.
func (c *Catalog) BuildLineItems(selection []models.TicketSelection) ([]models.LineItem, decimal.Decimal, error) {
	quantities := make(map[string]int)
	for _, sel := range selection {
		category, ok := c.byName[strings.ToLower(strings.TrimSpace(sel.Category))]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: %w %q", status.ErrInvalidRequest, ErrUnknownCategory, sel.Category)
		}
		if sel.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: %w: %d %s", status.ErrInvalidRequest, ErrQuantity, sel.Quantity, category.Name)
		}
		quantities[category.Name] += sel.Quantity
	}

	if len(quantities) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: %w", status.ErrInvalidRequest, ErrEmptySelection)
	}

	items := make([]models.LineItem, 0, len(quantities))
	total := decimal.Zero
	for _, category := range c.categories {
		qty, ok := quantities[category.Name]
		if !ok {
			continue
		}
		if qty > category.MaxPerBuy {
			return nil, decimal.Zero, fmt.Errorf("%w: %w: at most %d %s per purchase", status.ErrInvalidRequest, ErrQuantity, category.MaxPerBuy, category.Name)
		}

		item := models.NewLineItem(category.Name, qty, category.UnitPrice)
		items = append(items, item)
		total = total.Add(item.LineTotal)
	}

	return items, total, nil
}

// Description summarises the purchase for the Pix charge, e.g. "2 tickets".
func Description(items []models.LineItem) string {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	if n == 1 {
		return "1 ticket"
	}
	return fmt.Sprintf("%d tickets", n)
}

type CheckoutService struct {
	payments     payments.PaymentLifecycle
	catalog      *Catalog
	pollInterval time.Duration
}

func NewCheckoutService(lifecycle payments.PaymentLifecycle, catalog *Catalog, pollInterval time.Duration) *CheckoutService {
	return &CheckoutService{
		payments:     lifecycle,
		catalog:      catalog,
		pollInterval: pollInterval,
	}
}

func (s *CheckoutService) Catalog() *Catalog {
	return s.catalog
}

// Checkout creates the Pix charge for a selection, then starts the backup
// status polling and the expiry countdown.
func (s *CheckoutService) Checkout(ctx context.Context, selection []models.TicketSelection, customer *models.Customer) (*models.PaymentRecord, error) {
	items, total, err := s.catalog.BuildLineItems(selection)
	if err != nil {
		return nil, err
	}

	rec, err := s.payments.CreatePayment(ctx, total, Description(items), items, customer)
	if err != nil {
		return nil, err
	}

	s.payments.StartStatusPolling(rec.ID, s.pollInterval)
	s.payments.WatchExpiry(rec.ID)

	slog.Info("checkout started",
		"payment_id", rec.ID,
		"mode", s.payments.Mode(),
		"total", total.StringFixed(2),
		"categories", categoryNames(items),
	)

	return rec, nil
}

func categoryNames(items []models.LineItem) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Category)
	}
	sort.Strings(names)
	return names
}
