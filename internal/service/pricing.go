package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"expressmail/backend/internal/domain"
	"expressmail/backend/internal/storage"
)

const (
	pricingKeyPrefix = "pricing:"
	currencyField    = "currency"
	defaultCurrency  = "USD"
)

// ErrInvalidPlan 价格字段不被支持
var ErrInvalidPlan = errors.New("invalid pricing plan")

// CountryResolver 根据 IP 识别国家
type CountryResolver interface {
	Country(ctx context.Context, ip string) string
}

// PricingKey 国家价格哈希键
func PricingKey(country string) string {
	return pricingKeyPrefix + country
}

// PricingService 按国家提供套餐价格
type PricingService struct {
	kv  storage.KV
	geo CountryResolver
}

// NewPricingService 创建价格服务
func NewPricingService(kv storage.KV, geo CountryResolver) *PricingService {
	return &PricingService{kv: kv, geo: geo}
}

// Get 返回价格。override 为合法国家代码时优先使用，否则按 IP 识别；
// 该国家没有配置价格时回退到默认国家。
func (s *PricingService) Get(ctx context.Context, override, clientIP string) (*domain.Pricing, error) {
	country, err := domain.NormalizeCountry(override)
	if err != nil {
		country = domain.DefaultCountry
		if s.geo != nil {
			country = s.geo.Country(ctx, clientIP)
		}
	}

	fields, err := s.kv.HGetAll(ctx, PricingKey(country))
	if err != nil {
		return nil, fmt.Errorf("read pricing: %w", err)
	}
	if len(fields) == 0 && country != domain.DefaultCountry {
		fields, err = s.kv.HGetAll(ctx, PricingKey(domain.DefaultCountry))
		if err != nil {
			return nil, fmt.Errorf("read default pricing: %w", err)
		}
	}

	pricing := &domain.Pricing{
		Country:  country,
		Currency: defaultCurrency,
		Plans:    make(map[string]string, len(domain.PlanNames)),
	}
	if currency := fields[currencyField]; currency != "" {
		pricing.Currency = currency
	}
	for _, plan := range domain.PlanNames {
		pricing.Plans[plan] = fields[plan]
	}
	return pricing, nil
}

// Set 更新国家价格，只接受套餐字段和 currency
func (s *PricingService) Set(ctx context.Context, country string, values map[string]string) (string, error) {
	country, err := domain.NormalizeCountry(country)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", ErrInvalidPlan
	}
	for field := range values {
		if field != currencyField && !slices.Contains(domain.PlanNames, field) {
			return "", fmt.Errorf("%w: %s", ErrInvalidPlan, field)
		}
	}

	if err := s.kv.HSet(ctx, PricingKey(country), values); err != nil {
		return "", fmt.Errorf("save pricing: %w", err)
	}
	return country, nil
}
