// Package services – UserService
//
// This file implements UserService, the only component allowed to change
// user state. Create checks uniqueness, inserts the user and its activation
// record in a single transaction, then sends the welcome notification as a
// best-effort side effect. Read methods back the list and detail endpoints.
//
// Observability: public methods are OpenTelemetry-instrumented; spans are
// named after the method.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-users-backend/internal/domain"
	"github.com/tbourn/go-users-backend/internal/notify"
	"github.com/tbourn/go-users-backend/internal/reporting"
	"github.com/tbourn/go-users-backend/internal/repo"
)

// ErrorReporter records failures that must not change the response.
type ErrorReporter interface {
	Report(ctx context.Context, err error) reporting.Results
}

// UserService implements the user use-cases.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Notifier sends the welcome notification. Nil disables it.
	Notifier notify.Sender
	// Reporter receives non-fatal failures. Nil drops them after logging.
	Reporter ErrorReporter
	// ActivationTTL is the lifetime of activation tokens.
	ActivationTTL time.Duration
	// NotifyTimeout bounds the welcome notification. Zero means
	// DefaultNotifyTimeout.
	NotifyTimeout time.Duration

	now      func() time.Time
	newToken func() (string, error)
}

// DefaultNotifyTimeout bounds a welcome notification when NotifyTimeout is unset.
const DefaultNotifyTimeout = 5 * time.Second

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, notifier notify.Sender, reporter ErrorReporter, activationTTL time.Duration) *UserService {
	if activationTTL <= 0 {
		activationTTL = 72 * time.Hour
	}
	return &UserService{
		DB:            db,
		Notifier:      notifier,
		Reporter:      reporter,
		ActivationTTL: activationTTL,
	}
}

// NormalizeEmail trims and Unicode case-folds an address.
func NormalizeEmail(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Create stores a new user with its activation record and returns the user as
// re-read from the store.
//
// Errors:
//   - AlreadyExists("email", value) when the address is taken, including a
//     concurrent insert losing the unique-index race.
//   - Internal(cause) for any other failure. Nothing is persisted in that case.
//
// A failed welcome notification is reported as a NonFatalError and does not
// affect the result.
func (s *UserService) Create(ctx context.Context, cmd CreateUserCommand) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	if !cmd.valid {
		return nil, Internal(ErrUnvalidatedCommand)
	}
	email := NormalizeEmail(cmd.Email())
	span.SetAttributes(attribute.String("user.email_domain", emailDomain(email)))

	token, err := s.token()
	if err != nil {
		return nil, s.fail(span, Internal(err))
	}
	expiresAt := s.clock().Add(s.ActivationTTL)

	var (
		created    *domain.User
		activation *domain.Activation
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.FindUserBy(ctx, tx, "email", email); err == nil {
			return AlreadyExists("email", email)
		} else if !isNotFound(err) {
			return err
		}

		u := &domain.User{Email: email, Name: cmd.Name(), Attributes: cmd.Attributes()}
		if err := repo.CreateUser(ctx, tx, u); err != nil {
			if isDuplicate(err) {
				return AlreadyExists("email", email)
			}
			return err
		}

		a, err := repo.CreateActivation(ctx, tx, u.ID, token, expiresAt)
		if err != nil {
			return err
		}
		created, activation = u, a
		return nil
	})
	if err != nil {
		if _, ok := KindOf(err); ok {
			return nil, s.fail(span, err)
		}
		return nil, s.fail(span, Internal(err))
	}

	stored, err := repo.GetUser(ctx, s.DB, created.ID)
	if err != nil {
		return nil, s.fail(span, Internal(err))
	}
	span.SetAttributes(attribute.String("user.id", stored.ID))

	s.sendWelcome(ctx, stored, activation)
	return stored, nil
}

// sendWelcome delivers the welcome notification within NotifyTimeout,
// reporting failures.
func (s *UserService) sendWelcome(ctx context.Context, u *domain.User, a *domain.Activation) {
	if s.Notifier == nil {
		return
	}
	timeout := s.NotifyTimeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	// The user is committed; a client disconnect must not cancel the send.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := s.Notifier.SendWelcome(sendCtx, notify.Welcome{
		UserID:          u.ID,
		Email:           u.Email,
		Name:            u.Name,
		ActivationToken: a.Token,
		ExpiresAt:       a.ExpiresAt,
	})
	if err == nil {
		return
	}

	nonFatal := &NonFatalError{Op: "send welcome notification", Err: err}
	log.Ctx(ctx).Warn().Err(err).Str("user_id", u.ID).Msg("welcome notification failed")
	if s.Reporter != nil {
		s.Reporter.Report(ctx, nonFatal)
	}
}

// Get returns the user with id or ErrUserNotFound.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("user.id", id)))
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, s.fail(span, Internal(err))
	}
	return u, nil
}

// ListPage returns one page of users and the total number of matches. The
// query is normalized first (see ListQuery.Normalize).
func (s *UserService) ListPage(ctx context.Context, q ListQuery) ([]domain.User, int64, error) {
	q = q.Normalize()

	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
			attribute.String("sort", q.Sort),
		),
	)
	defer span.End()

	f := repo.UserFilter{Email: q.Email}
	total, err := repo.CountUsers(ctx, s.DB, f)
	if err != nil {
		return nil, 0, s.fail(span, Internal(err))
	}
	if total == 0 {
		return []domain.User{}, 0, nil
	}

	items, err := repo.ListUsersPage(ctx, s.DB, f, q.Sort, (q.Page-1)*q.PageSize, q.PageSize)
	if err != nil {
		return nil, 0, s.fail(span, Internal(err))
	}
	return items, total, nil
}

// Stats returns the match count and latest update time for the users
// selected by q, for ETag computation.
func (s *UserService) Stats(ctx context.Context, q ListQuery) (int64, *time.Time, error) {
	q = q.Normalize()
	count, maxAt, err := repo.UsersStats(ctx, s.DB, repo.UserFilter{Email: q.Email})
	if err != nil {
		return 0, nil, Internal(err)
	}
	return count, maxAt, nil
}

func (s *UserService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (s *UserService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func (s *UserService) token() (string, error) {
	if s.newToken != nil {
		return s.newToken()
	}
	return randomToken()
}

// randomToken returns 32 random bytes, hex encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func emailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 {
		return email[i+1:]
	}
	return ""
}

// isNotFound treats repo-level not found sentinels as "not found".
func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
