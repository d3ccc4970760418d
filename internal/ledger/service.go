package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/samara-industry/stockledger/internal/audit"
	"github.com/samara-industry/stockledger/internal/shared"
)

// CommandObserver receives the outcome of every mutating command.
type CommandObserver interface {
	ObserveCommand(op string, err error)
}

// Service is the ledger mutation engine. Every command runs under the
// aggregate locks it touches and inside one store transaction together
// with its audit entry.
type Service struct {
	repo     Repository
	locker   shared.Locker
	logger   *slog.Logger
	observer CommandObserver
	now      func() time.Time
	newID    func() string
	printer  *message.Printer
}

// NewService builds Service. A nil locker falls back to an in-process locker.
func NewService(repo Repository, locker shared.Locker, logger *slog.Logger) *Service {
	if locker == nil {
		locker = shared.NewLocalLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		printer: message.NewPrinter(language.English),
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithIDGenerator overrides entity id generation.
func (s *Service) WithIDGenerator(gen func() string) {
	if gen != nil {
		s.newID = gen
	}
}

// WithObserver registers a command outcome observer.
func (s *Service) WithObserver(observer CommandObserver) {
	s.observer = observer
}

// Audit exposes the store's audit trail reader.
func (s *Service) Audit() audit.Repository {
	return s.repo
}

// command acquires keys, runs fn in a transaction and reports the outcome.
func (s *Service) command(ctx context.Context, op string, keys []string, fn func(context.Context, TxRepository) error) error {
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return s.finish(op, err)
	}
	defer release()
	return s.finish(op, s.repo.WithTx(ctx, fn))
}

func (s *Service) finish(op string, err error) error {
	if s.observer != nil {
		s.observer.ObserveCommand(op, err)
	}
	if err == nil {
		return nil
	}
	if shared.IsDomainError(err) {
		s.logger.Info("ledger command rejected", slog.String("op", op), slog.String("kind", shared.Kind(err)), slog.Any("error", err))
	} else {
		s.logger.Error("ledger command failed", slog.String("op", op), slog.Any("error", err))
	}
	return err
}

func (s *Service) record(ctx context.Context, tx TxRepository, action, refType, refID, format string, args ...any) error {
	entry := audit.NewEntry(s.now(), shared.ActorFromContext(ctx), action, refType, refID, s.printer.Sprintf(format, args...))
	if _, err := tx.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("ledger: append audit: %w", err)
	}
	return nil
}

func (s *Service) today() Date {
	return DateOf(s.now())
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrRequiredField, field)
	}
	return nil
}

func positive(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// CreateProduct registers a new active product.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	const op = "create_product"
	p := Product{
		Name:   strings.TrimSpace(input.Name),
		Code:   strings.TrimSpace(input.Code),
		Rate:   input.Rate,
		Active: true,
	}
	if err := validateProduct(p); err != nil {
		return Product{}, s.finish(op, err)
	}
	p.ID = s.newID()
	p.CreatedAt = s.now()
	err := s.command(ctx, op, nil, func(ctx context.Context, tx TxRepository) error {
		taken, err := tx.ProductCodeTaken(ctx, p.Code, "")
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, p.Code)
		}
		if err := tx.InsertProduct(ctx, p); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionProductCreated, audit.RefProduct, p.ID, "Product %s (%s) created at rate %s", p.Code, p.Name, p.Rate.StringFixed(2))
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// UpdateProduct replaces name, code and rate. Invoice totals follow the new rate.
func (s *Service) UpdateProduct(ctx context.Context, input UpdateProductInput) (Product, error) {
	const op = "update_product"
	next := Product{
		ID:   input.ID,
		Name: strings.TrimSpace(input.Name),
		Code: strings.TrimSpace(input.Code),
		Rate: input.Rate,
	}
	if err := validateProduct(next); err != nil {
		return Product{}, s.finish(op, err)
	}
	var updated Product
	err := s.command(ctx, op, nil, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetProduct(ctx, input.ID)
		if err != nil {
			return err
		}
		taken, err := tx.ProductCodeTaken(ctx, next.Code, current.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, next.Code)
		}
		updated = current
		updated.Name, updated.Code, updated.Rate = next.Name, next.Code, next.Rate
		if err := tx.UpdateProduct(ctx, updated); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionProductUpdated, audit.RefProduct, updated.ID, "Product %s updated: name %s, rate %s", updated.Code, updated.Name, updated.Rate.StringFixed(2))
	})
	if err != nil {
		return Product{}, err
	}
	return updated, nil
}

// DeactivateProduct soft deletes a product. Existing POs and stock outs keep referencing it.
func (s *Service) DeactivateProduct(ctx context.Context, id string) (Product, error) {
	const op = "deactivate_product"
	var updated Product
	err := s.command(ctx, op, nil, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		updated = current
		updated.Active = false
		if err := tx.UpdateProduct(ctx, updated); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionProductDeactivated, audit.RefProduct, updated.ID, "Product %s deactivated", updated.Code)
	})
	if err != nil {
		return Product{}, err
	}
	return updated, nil
}

func validateProduct(p Product) error {
	if err := required("name", p.Name); err != nil {
		return err
	}
	if err := required("code", p.Code); err != nil {
		return err
	}
	if p.Rate.IsNegative() {
		return ErrInvalidRate
	}
	return nil
}

// GetProduct returns one product, active or not.
func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts lists products ordered by code.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// AddMaterial attaches a bill-of-materials component to a product.
func (s *Service) AddMaterial(ctx context.Context, productID, name string) (Material, error) {
	const op = "add_material"
	m := Material{ProductID: productID, Name: strings.TrimSpace(name), Active: true}
	if err := required("name", m.Name); err != nil {
		return Material{}, s.finish(op, err)
	}
	m.ID = s.newID()
	m.CreatedAt = s.now()
	err := s.command(ctx, op, nil, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := tx.InsertMaterial(ctx, m); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionMaterialAdded, audit.RefMaterial, m.ID, "Material %s added to %s", m.Name, p.Code)
	})
	if err != nil {
		return Material{}, err
	}
	return m, nil
}

// RemoveMaterial soft deletes a material.
func (s *Service) RemoveMaterial(ctx context.Context, id string) error {
	const op = "remove_material"
	return s.command(ctx, op, nil, func(ctx context.Context, tx TxRepository) error {
		m, err := tx.GetMaterial(ctx, id)
		if err != nil {
			return err
		}
		if !m.Active {
			return ErrMaterialNotFound
		}
		m.Active = false
		if err := tx.UpdateMaterial(ctx, m); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionMaterialRemoved, audit.RefMaterial, m.ID, "Material %s removed", m.Name)
	})
}

// ListMaterials lists the active materials of a product.
func (s *Service) ListMaterials(ctx context.Context, productID string) ([]Material, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListMaterials(ctx, productID)
}
