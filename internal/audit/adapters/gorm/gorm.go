// Package gorm persists audit.Row to Postgres using gorm, grounded on the
// connection-pool conventions of the teacher's sql adapters.
package gorm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ordergate/brokerd/internal/audit"
	"github.com/ordergate/brokerd/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config configures the Postgres connection backing the audit store.
type Config struct {
	Host            string        `env:"AUDIT_DB_HOST" env-default:"localhost"`
	Port            string        `env:"AUDIT_DB_PORT" env-default:"5432"`
	User            string        `env:"AUDIT_DB_USER" env-default:"brokerd"`
	Password        string        `env:"AUDIT_DB_PASSWORD"`
	Name            string        `env:"AUDIT_DB_NAME" env-default:"brokerd"`
	SSLMode         string        `env:"AUDIT_DB_SSLMODE" env-default:"disable"`
	MaxIdleConns    int           `env:"AUDIT_DB_MAX_IDLE_CONNS" env-default:"5"`
	MaxOpenConns    int           `env:"AUDIT_DB_MAX_OPEN_CONNS" env-default:"20"`
	ConnMaxLifetime time.Duration `env:"AUDIT_DB_CONN_MAX_LIFETIME" env-default:"30m"`
}

// orderAuditModel is the gorm row shape, matching the external field list
// in §6 plus gorm's bookkeeping columns.
type orderAuditModel struct {
	ID              string `gorm:"primaryKey"`
	CreatedAt       time.Time
	Mode            string
	Symbol          string
	ExchangeCode    string
	Action          string
	Quantity        float64
	Status          string
	FillQuantity    float64
	FillPrice       *float64
	UpstreamOrderID string `gorm:"index"`
	FailureMessage  string
}

func (orderAuditModel) TableName() string { return "order_audit" }

// Store implements audit.Store on Postgres via gorm.
type Store struct {
	db *gorm.DB
}

// New opens the connection and runs the schema migration.
func New(cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "connect to audit postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get underlying sql.DB")
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&orderAuditModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate audit schema")
	}

	return &Store{db: db}, nil
}

func (s *Store) Insert(ctx context.Context, row audit.Row) (audit.Row, error) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	model := toModel(row)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return audit.Row{}, errors.Internal("insert audit row", err)
	}
	return fromModel(model), nil
}

func (s *Store) UpdateByID(ctx context.Context, id string, fn func(*audit.Row)) (audit.Row, error) {
	var model orderAuditModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return audit.Row{}, errors.NotFound("audit row not found: "+id, err)
		}
		return audit.Row{}, errors.Internal("find audit row", err)
	}
	return s.save(ctx, model, fn)
}

func (s *Store) Update(ctx context.Context, upstreamOrderID string, fn func(*audit.Row)) (audit.Row, error) {
	var model orderAuditModel
	if err := s.db.WithContext(ctx).Where("upstream_order_id = ?", upstreamOrderID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return audit.Row{}, errors.NotFound("audit row not found for upstream order "+upstreamOrderID, err)
		}
		return audit.Row{}, errors.Internal("find audit row", err)
	}
	return s.save(ctx, model, fn)
}

func (s *Store) save(ctx context.Context, model orderAuditModel, fn func(*audit.Row)) (audit.Row, error) {
	row := fromModel(model)
	fn(&row)
	updated := toModel(row)

	if err := s.db.WithContext(ctx).Save(&updated).Error; err != nil {
		return audit.Row{}, errors.Internal("update audit row", err)
	}
	return fromModel(updated), nil
}

func (s *Store) FindByUpstreamOrderID(ctx context.Context, upstreamOrderID string) (audit.Row, error) {
	var model orderAuditModel
	if err := s.db.WithContext(ctx).Where("upstream_order_id = ?", upstreamOrderID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return audit.Row{}, errors.NotFound("audit row not found for upstream order "+upstreamOrderID, err)
		}
		return audit.Row{}, errors.Internal("find audit row", err)
	}
	return fromModel(model), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get underlying sql.DB")
	}
	return sqlDB.Close()
}

func toModel(row audit.Row) orderAuditModel {
	return orderAuditModel{
		ID:              row.ID,
		CreatedAt:       row.CreatedAt,
		Mode:            string(row.Mode),
		Symbol:          row.Symbol,
		ExchangeCode:    row.ExchangeCode,
		Action:          row.Action,
		Quantity:        row.Quantity,
		Status:          string(row.Status),
		FillQuantity:    row.FillQuantity,
		FillPrice:       row.FillPrice,
		UpstreamOrderID: row.UpstreamOrderID,
		FailureMessage:  row.FailureMessage,
	}
}

func fromModel(m orderAuditModel) audit.Row {
	return audit.Row{
		ID:              m.ID,
		CreatedAt:       m.CreatedAt,
		Mode:            audit.Mode(m.Mode),
		Symbol:          m.Symbol,
		ExchangeCode:    m.ExchangeCode,
		Action:          m.Action,
		Quantity:        m.Quantity,
		Status:          audit.Status(m.Status),
		FillQuantity:    m.FillQuantity,
		FillPrice:       m.FillPrice,
		UpstreamOrderID: m.UpstreamOrderID,
		FailureMessage:  m.FailureMessage,
	}
}
