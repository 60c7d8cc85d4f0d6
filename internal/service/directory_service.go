package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/mapper"
	"github.com/straye-as/purchase-api/internal/policy"
	"github.com/straye-as/purchase-api/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAllowedDomainNotFound is returned when an allowed domain is not found
var ErrAllowedDomainNotFound = fmt.Errorf("allowed domain %w", ErrNotFound)

// ErrAllowedDomainExists is returned when the domain is already registered
var ErrAllowedDomainExists = fmt.Errorf("allowed domain %w", ErrConflict)

// VendorService manages the vendor list
type VendorService struct {
	vendorRepo *repository.VendorRepository
	logger     *zap.Logger
}

func NewVendorService(vendorRepo *repository.VendorRepository, logger *zap.Logger) *VendorService {
	return &VendorService{vendorRepo: vendorRepo, logger: logger}
}

// List returns every vendor ordered by name
func (s *VendorService) List(ctx context.Context) ([]domain.VendorDTO, error) {
	vendors, err := s.vendorRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	dtos := make([]domain.VendorDTO, len(vendors))
	for i := range vendors {
		dtos[i] = mapper.ToVendorDTO(&vendors[i])
	}
	return dtos, nil
}

func (s *VendorService) GetByID(ctx context.Context, id uuid.UUID) (*domain.VendorDTO, error) {
	vendor, err := s.vendorRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVendorNotFound
		}
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	dto := mapper.ToVendorDTO(vendor)
	return &dto, nil
}

// Create adds a vendor
func (s *VendorService) Create(ctx context.Context, actor domain.Actor, req *domain.CreateVendorRequest) (*domain.VendorDTO, error) {
	if !policy.CanManageVendors(actor) {
		return nil, &domain.AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: "add vendors"}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "name is required")
	}
	vendor := &domain.Vendor{
		Name:         name,
		ContactEmail: strings.TrimSpace(req.ContactEmail),
		Phone:        strings.TrimSpace(req.Phone),
	}
	if err := s.vendorRepo.Create(ctx, vendor); err != nil {
		return nil, fmt.Errorf("failed to create vendor: %w", err)
	}
	s.logger.Info("vendor created", zap.String("vendor_id", vendor.ID.String()), zap.String("name", vendor.Name))
	dto := mapper.ToVendorDTO(vendor)
	return &dto, nil
}

// AllowedDomainService manages the email domains that may hold accounts
type AllowedDomainService struct {
	domainRepo *repository.AllowedDomainRepository
	logger     *zap.Logger
}

func NewAllowedDomainService(domainRepo *repository.AllowedDomainRepository, logger *zap.Logger) *AllowedDomainService {
	return &AllowedDomainService{domainRepo: domainRepo, logger: logger}
}

func (s *AllowedDomainService) List(ctx context.Context, actor domain.Actor) ([]domain.AllowedDomainDTO, error) {
	if err := requireUserAdmin(actor, "list allowed domains"); err != nil {
		return nil, err
	}
	domains, err := s.domainRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list allowed domains: %w", err)
	}
	dtos := make([]domain.AllowedDomainDTO, len(domains))
	for i := range domains {
		dtos[i] = mapper.ToAllowedDomainDTO(&domains[i])
	}
	return dtos, nil
}

// Create registers a domain. Domains are stored lower-cased and must be unique.
func (s *AllowedDomainService) Create(ctx context.Context, actor domain.Actor, req *domain.CreateAllowedDomainRequest) (*domain.AllowedDomainDTO, error) {
	if err := requireUserAdmin(actor, "add allowed domains"); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(req.Domain), "@")))
	if name == "" || !strings.Contains(name, ".") {
		return nil, domain.NewValidationError("domain", "must be a valid domain name")
	}
	exists, err := s.domainRepo.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to check domain: %w", err)
	}
	if exists {
		return nil, ErrAllowedDomainExists
	}

	d := &domain.AllowedDomain{Domain: name}
	if err := s.domainRepo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create allowed domain: %w", err)
	}
	s.logger.Info("allowed domain added", zap.String("domain", d.Domain))
	dto := mapper.ToAllowedDomainDTO(d)
	return &dto, nil
}

func (s *AllowedDomainService) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := requireUserAdmin(actor, "remove allowed domains"); err != nil {
		return err
	}
	if err := s.domainRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAllowedDomainNotFound
		}
		return fmt.Errorf("failed to delete allowed domain: %w", err)
	}
	s.logger.Info("allowed domain removed", zap.String("domain_id", id.String()))
	return nil
}
