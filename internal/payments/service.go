package payments

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/paysaga-backend/pkg/db"
	"github.com/angelmondragon/paysaga-backend/pkg/db/models"
	"github.com/angelmondragon/paysaga-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox"
	"github.com/angelmondragon/paysaga-backend/pkg/outbox/payloads"
)

const (
	idempotencyKeyConstraint = "payments_idempotency_key_key"
	defaultListLimit         = 50
	maxListLimit             = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (uuid.UUID, error)
}

// Service is the synchronous side of the payments service.
type Service interface {
	InitiatePayment(ctx context.Context, input InitiatePaymentInput) (*models.Payment, bool, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*PaymentDetails, error)
	ListByStatus(ctx context.Context, status enums.PaymentStatus, limit int) ([]models.Payment, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	validate *validator.Validate
}

// NewService wires the payments service.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return &service{repo: repo, tx: tx, outbox: outbox, logg: logg, validate: v}, nil
}

// InitiatePayment creates the payment and stages PaymentInitiated. A repeated
// idempotency key returns the existing payment with created=false.
func (s *service) InitiatePayment(ctx context.Context, input InitiatePaymentInput) (*models.Payment, bool, error) {
	input.SenderAccount = strings.TrimSpace(input.SenderAccount)
	input.ReceiverAccount = strings.TrimSpace(input.ReceiverAccount)
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := s.validateInput(input); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup idempotency key")
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		SenderAccount:   input.SenderAccount,
		ReceiverAccount: input.ReceiverAccount,
		Amount:          input.Amount,
		Currency:        input.Currency,
		Status:          enums.PaymentStatusInitiated,
		IdempotencyKey:  input.IdempotencyKey,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, payment); err != nil {
			return err
		}
		_, err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: payloads.PaymentInitiatedEvent{
				PaymentID:       payment.ID,
				SenderAccount:   payment.SenderAccount,
				ReceiverAccount: payment.ReceiverAccount,
				Amount:          payment.Amount,
				Currency:        payment.Currency,
			},
		})
		return err
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, idempotencyKeyConstraint) {
			// a concurrent request with the same key committed first
			winner, ferr := s.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
			if ferr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, ferr, "reload payment after key conflict")
			}
			return winner, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}

	logCtx := s.logg.WithPaymentID(ctx, payment.ID.String())
	s.logg.Info(logCtx, "payment initiated")
	return payment, true, nil
}

func (s *service) validateInput(input InitiatePaymentInput) error {
	if err := s.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment request").WithDetails(fields)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment request")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero").
			WithDetails(map[string]string{"amount": "gt"})
	}
	if input.Amount.Exponent() < -2 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount supports at most two decimal places").
			WithDetails(map[string]string{"amount": "scale"})
	}
	return nil
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}

func (s *service) GetPayment(ctx context.Context, id uuid.UUID) (*PaymentDetails, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	transitions, err := s.repo.ListTransitions(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transitions")
	}
	if transitions == nil {
		transitions = []models.PaymentTransition{}
	}
	return &PaymentDetails{Payment: *payment, Transitions: transitions}, nil
}

func (s *service) ListByStatus(ctx context.Context, status enums.PaymentStatus, limit int) ([]models.Payment, error) {
	if status != "" && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status").
			WithDetails(map[string]string{"status": string(status)})
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	payments, err := s.repo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return payments, nil
}
