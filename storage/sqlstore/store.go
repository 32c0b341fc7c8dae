package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/giantswarm/oauth-grants/instrumentation"
	"github.com/giantswarm/oauth-grants/internal/util"
	"github.com/giantswarm/oauth-grants/security"
	"github.com/giantswarm/oauth-grants/storage"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	// DefaultRevokedRetention is how long revoked tokens are kept before Cleanup removes them
	DefaultRevokedRetention = 90 * 24 * time.Hour

	// tokenIDLogLength is the number of characters to include when logging codes and tokens
	tokenIDLogLength = 8

	// gaugeQueryTimeout bounds the COUNT queries behind the storage size gauges
	gaugeQueryTimeout = 2 * time.Second
)

// ErrInvalidDriver is returned for an unknown driver name.
var ErrInvalidDriver = errors.New("invalid database driver")

// Config holds configuration for the SQL storage backend.
type Config struct {
	// Driver is one of "sqlite", "postgres" or "mysql"
	Driver string

	// DSN is the driver specific data source name, e.g. "oauth.db" or ":memory:" for SQLite
	DSN string

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// RevokedRetention bounds how long revoked tokens are kept.
	// Default: 90 days
	RevokedRetention time.Duration
}

// Store is a gorm-backed implementation of ClientStore, CodeStore and TokenStore.
//
// The atomic primitives run inside a transaction and guard their state change with a
// conditional UPDATE whose affected row count decides the race, so they hold on any
// isolation level.
type Store struct {
	db               *gorm.DB
	logger           *slog.Logger
	revokedRetention time.Duration
	obs              *storage.Observer
}

var _ storage.Store = (*Store)(nil)

// New opens the database, migrates the schema and returns a store.
func New(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite allows one writer; an in-memory database also exists per connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s, err := NewWithDB(db, cfg)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Opened SQL storage", "driver", cfg.Driver)
	return s, nil
}

// NewWithDB wraps an open gorm handle and migrates the schema. Driver and DSN in cfg are ignored.
func NewWithDB(db *gorm.DB, cfg Config) (*Store, error) {
	if err := db.AutoMigrate(&clientModel{}, &codeModel{}, &tokenModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.RevokedRetention
	if retention <= 0 {
		retention = DefaultRevokedRetention
	}

	return &Store{
		db:               db,
		logger:           logger,
		revokedRetention: retention,
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store.
// Size gauges run a COUNT query per table on every collection.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.obs = storage.NewObserver(inst, "sql")
	if inst == nil {
		return
	}

	err := inst.RegisterStorageSizeCallbacks(
		s.countCallback(&tokenModel{}),
		s.countCallback(&codeModel{}),
		s.countCallback(&clientModel{}),
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) countCallback(model any) instrumentation.StorageSizeCallback {
	return func() int64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeQueryTimeout)
		defer cancel()

		var n int64
		if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			s.logger.Debug("Failed to count rows for storage gauge", "error", err)
			return 0
		}
		return n
	}
}

// wrapErr marks database failures as storage.ErrUnavailable
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, op, err)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient creates or replaces a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.obs.Start(ctx, "save_client")
	defer done(&err)

	if err = storage.ValidateClient(client); err != nil {
		return err
	}

	model, err := newClientModel(client)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		return wrapErr("save client", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID, "client_type", client.ClientType)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.obs.Start(ctx, "get_client")
	defer done(&err)

	var model clientModel
	err = s.db.WithContext(ctx).Where("client_id = ?", clientID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, wrapErr("get client", err)
	}
	return model.toClient()
}

// DeleteClient removes a client
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	ctx, done := s.obs.Start(ctx, "delete_client")
	defer done(&err)

	result := s.db.WithContext(ctx).Where("client_id = ?", clientID).Delete(&clientModel{})
	if result.Error != nil {
		return wrapErr("delete client", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrClientNotFound
	}
	return nil
}

// ListClients returns every registered client ordered by client ID
func (s *Store) ListClients(ctx context.Context) (_ []*storage.Client, err error) {
	ctx, done := s.obs.Start(ctx, "list_clients")
	defer done(&err)

	var models []clientModel
	if err = s.db.WithContext(ctx).Order("client_id asc").Find(&models).Error; err != nil {
		return nil, wrapErr("list clients", err)
	}

	clients := make([]*storage.Client, 0, len(models))
	for i := range models {
		client, err := models[i].toClient()
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode stores a freshly issued code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.obs.Start(ctx, "save_authorization_code")
	defer done(&err)

	if err = storage.ValidateAuthorizationCode(code); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Create(newCodeModel(code)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		return wrapErr("save authorization code", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.obs.Start(ctx, "get_authorization_code")
	defer done(&err)

	model, err := takeCode(s.db.WithContext(ctx), code)
	if err != nil {
		return nil, err
	}

	authCode := model.toCode()
	if security.IsTokenExpired(authCode.ExpiresAt) {
		return nil, storage.ErrAuthorizationCodeExpired
	}
	return authCode, nil
}

// RedeemAuthorizationCode atomically validates and consumes an authorization code.
// The used flag only flips for the caller whose conditional UPDATE affects the row.
func (s *Store) RedeemAuthorizationCode(ctx context.Context, code string, binding storage.CodeBinding) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.obs.Start(ctx, "redeem_authorization_code")
	defer done(&err)

	var redeemed *storage.AuthorizationCode
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := takeCode(tx, code)
		if err != nil {
			return err
		}

		authCode := model.toCode()
		if err := storage.CheckRedeemable(authCode, binding); err != nil {
			if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
				redeemed = authCode
			}
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&codeModel{}).
			Where("code = ? AND used = ?", code, false).
			Updates(map[string]any{"used": true, "used_at": now})
		if result.Error != nil {
			return wrapErr("redeem authorization code", result.Error)
		}
		if result.RowsAffected == 0 {
			// lost the race to a concurrent redemption
			model, err := takeCode(tx, code)
			if err != nil {
				return err
			}
			redeemed = model.toCode()
			return storage.ErrAuthorizationCodeUsed
		}

		authCode.Used = true
		authCode.UsedAt = now
		redeemed = authCode
		return nil
	})

	if errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		return redeemed, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Redeemed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
		"client_id", binding.ClientID)
	return redeemed, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.obs.Start(ctx, "delete_authorization_code")
	defer done(&err)

	if err = s.db.WithContext(ctx).Where("code = ?", code).Delete(&codeModel{}).Error; err != nil {
		return wrapErr("delete authorization code", err)
	}
	return nil
}

func takeCode(db *gorm.DB, code string) (*codeModel, error) {
	var model codeModel
	err := db.Where("code = ?", code).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err != nil {
		return nil, wrapErr("get authorization code", err)
	}
	return &model, nil
}

// ============================================================
// Cleanup
// ============================================================

// Cleanup deletes expired codes, expired tokens and revoked tokens past the retention
// period. Returns the number of deleted rows.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-security.DefaultClockSkewGracePeriod)
	retentionCutoff := now.Add(-s.revokedRetention)

	var cleaned int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		codes := tx.Where("expires_at < ?", cutoff).Delete(&codeModel{})
		if codes.Error != nil {
			return codes.Error
		}

		tokens := tx.
			Where("expires_at IS NOT NULL AND expires_at < ?", cutoff).
			Or("revoked = ? AND revoked_at < ?", true, retentionCutoff).
			Delete(&tokenModel{})
		if tokens.Error != nil {
			return tokens.Error
		}

		cleaned = codes.RowsAffected + tokens.RowsAffected
		return nil
	})
	if err != nil {
		return 0, wrapErr("cleanup", err)
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
	return int(cleaned), nil
}

// RunCleanup calls Cleanup every interval until ctx is cancelled.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Warn("Storage cleanup failed", "error", err)
			}
		}
	}
}
