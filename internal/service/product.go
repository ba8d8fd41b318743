package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/go-checkout-api/internal/dto"
	"github.com/flicky/go-checkout-api/internal/model"
	"github.com/flicky/go-checkout-api/internal/repository"
)

const (
	productCacheTTL = 60 * time.Second
	// Version keys outlive the cached entry so that a fill started before an
	// invalidation still sees the bump.
	productVersionTTL = 10 * time.Minute
)

// fillProductCache stores the entry only if the product's version is still
// the one read before loading the row. An Invalidate in between bumps the
// version and the stale fill is dropped.
var fillProductCache = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or ""
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

type ProductService struct {
	productRepo repository.ProductRepository
	redisClient redis.Cmdable
	log         *slog.Logger
}

// NewProductService builds the catalog service. redisClient may be nil, in
// which case every read goes to the database.
func NewProductService(productRepo repository.ProductRepository, redisClient redis.Cmdable, log *slog.Logger) *ProductService {
	return &ProductService{productRepo: productRepo, redisClient: redisClient, log: log}
}

func productCacheKey(id uuid.UUID) string {
	return "product:" + id.String()
}

func productVersionKey(id uuid.UUID) string {
	return "product:" + id.String() + ":version"
}

func (s *ProductService) Create(ctx context.Context, req dto.CreateProductRequest) (*dto.ProductResponse, error) {
	product := &model.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Item:        req.Item,
		Type:        req.Type,
		Sizes:       req.Sizes,
		Colors:      req.Colors,
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	s.log.Info("product created", "product_id", product.ID, "stock", product.Stock)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error) {
	cacheKey := productCacheKey(id)
	versionKey := productVersionKey(id)

	var version string
	if s.redisClient != nil {
		if cached, err := s.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var resp dto.ProductResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				return &resp, nil
			}
		}
		// A missing key reads as "", which is also what the script compares
		// against.
		version, _ = s.redisClient.Get(ctx, versionKey).Result()
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	resp := toProductResponse(product)
	if s.redisClient != nil {
		if data, err := json.Marshal(resp); err == nil {
			err = fillProductCache.Run(ctx, s.redisClient, []string{cacheKey, versionKey},
				version, data, productCacheTTL.Milliseconds()).Err()
			if err != nil {
				s.log.Warn("fill product cache", "error", err, "product_id", id)
			}
		}
	}
	return &resp, nil
}

func (s *ProductService) List(ctx context.Context, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	offset := (req.Page - 1) * req.Limit
	products, total, err := s.productRepo.List(ctx, req.Limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, toProductResponse(&products[i]))
	}
	return &dto.ProductListResponse{Products: items, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

func (s *ProductService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateProductRequest) (*dto.ProductResponse, error) {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Stock != nil {
		product.Stock = *req.Stock
	}
	if req.Item != nil {
		product.Item = *req.Item
	}
	if req.Type != nil {
		product.Type = *req.Type
	}
	if req.Sizes != nil {
		product.Sizes = req.Sizes
	}
	if req.Colors != nil {
		product.Colors = req.Colors
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	if err := s.productRepo.Update(ctx, product); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.Invalidate(ctx, id)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.productRepo.Delete(ctx, id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrProductNotFound
	case errors.Is(err, repository.ErrReferenced):
		return ErrProductInUse
	case err != nil:
		return fmt.Errorf("delete product: %w", err)
	}
	s.Invalidate(ctx, id)
	s.log.Info("product deleted", "product_id", id)
	return nil
}

// Invalidate drops cached entries. Checkout and payment call it after
// committing stock changes.
func (s *ProductService) Invalidate(ctx context.Context, ids ...uuid.UUID) {
	if s.redisClient == nil || len(ids) == 0 {
		return
	}
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, productVersionKey(id))
			pipe.Expire(ctx, productVersionKey(id), productVersionTTL)
			pipe.Del(ctx, productCacheKey(id))
		}
		return nil
	})
	if err != nil {
		s.log.Warn("invalidate product cache", "error", err, "products", len(ids))
	}
}

func validateProduct(p *model.Product) error {
	if p.Name == "" {
		return newError(KindBusinessRule, "product name is required")
	}
	if !p.Price.IsPositive() {
		return newError(KindBusinessRule, "product price must be positive")
	}
	if p.Stock < 0 {
		return newError(KindBusinessRule, "product stock cannot be negative")
	}
	return nil
}

func toProductResponse(p *model.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Stock:       p.Stock,
		Item:        p.Item,
		Type:        p.Type,
		Sizes:       nonNilStrings(p.Sizes),
		Colors:      nonNilStrings(p.Colors),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
