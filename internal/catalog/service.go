// Package catalog holds the product administration operations.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

var (
	ErrInvalidName  = errors.New("product name is required")
	ErrInvalidPrice = errors.New("product price must be greater than zero")
	ErrInvalidStock = errors.New("stock quantity cannot be negative")
)

type CreateProductRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
}

// UpdateProductRequest changes only the fields that are set. When Version is
// set the update is rejected unless it matches the stored version.
type UpdateProductRequest struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	StockQuantity *int             `json:"stockQuantity,omitempty"`
	Version       *int64           `json:"version,omitempty"`
}

type Service struct {
	products orders.ProductRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(products orders.ProductRepository, logger *zap.Logger) *Service {
	return &Service{products: products, logger: logger, now: time.Now}
}

func (s *Service) List(ctx context.Context) ([]orders.Product, error) {
	return s.products.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*orders.Product, error) {
	return s.products.GetByID(ctx, id)
}

func (s *Service) Create(ctx context.Context, req CreateProductRequest) (*orders.Product, error) {
	p := &orders.Product{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		Version:       1,
		CreatedAt:     s.now().UTC(),
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	if err := s.products.Add(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("Product created", zap.String("product_id", p.ID), zap.Int("stock", p.StockQuantity))
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateProductRequest) (*orders.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := p.Version
	if req.Version != nil {
		if *req.Version != p.Version {
			return nil, fmt.Errorf("%w: product %s is at version %d", orders.ErrConcurrencyConflict, id, p.Version)
		}
		expected = *req.Version
	}

	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.StockQuantity != nil {
		p.StockQuantity = *req.StockQuantity
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	if err := s.products.UpdateWithVersion(ctx, p, expected); err != nil {
		return nil, err
	}
	s.logger.Info("Product updated", zap.String("product_id", p.ID), zap.Int64("version", p.Version))
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Product deleted", zap.String("product_id", id))
	return nil
}

func validate(p *orders.Product) error {
	if p.Name == "" {
		return ErrInvalidName
	}
	if !p.Price.IsPositive() {
		return ErrInvalidPrice
	}
	if p.StockQuantity < 0 {
		return ErrInvalidStock
	}
	return nil
}

// IsValidation reports input errors raised before any write.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) || errors.Is(err, ErrInvalidPrice) || errors.Is(err, ErrInvalidStock)
}
