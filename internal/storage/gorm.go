package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gabe/crew/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRuleNotFound is returned when no alert rule has the requested id
var ErrRuleNotFound = errors.New("alert rule not found")

// ConnectMySQL opens a gorm DB with sane defaults
func ConnectMySQL(dsn string) (*gorm.DB, error) {
	dsn = ensureParam(dsn, "parseTime", "true")
	if !strings.Contains(dsn, "charset=") {
		dsn = ensureParam(dsn, "charset", "utf8mb4")
		dsn = ensureParam(dsn, "collation", "utf8mb4_unicode_ci")
	}

	gormLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{SlowThreshold: time.Second, LogLevel: logger.Warn, IgnoreRecordNotFoundError: true},
	)

	return gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
}

func ensureParam(dsn, key, val string) string {
	if strings.Contains(dsn, key+"=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + key + "=" + val
}

// Migrate creates or updates the tables used by the SQL stores
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Mission{}, &models.AlertRule{}, &models.AlertFiring{})
}

// GormMissionStore keeps missions in a SQL table
type GormMissionStore struct {
	db *gorm.DB
}

// NewGormMissionStore wraps an open database
func NewGormMissionStore(db *gorm.DB) *GormMissionStore {
	return &GormMissionStore{db: db}
}

func (s *GormMissionStore) Create(ctx context.Context, m *models.Mission) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormMissionStore) Get(ctx context.Context, id string) (*models.Mission, error) {
	var m models.Mission
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *GormMissionStore) Update(ctx context.Context, m *models.Mission) error {
	res := s.db.WithContext(ctx).Model(&models.Mission{}).Where("id = ?", m.ID).Select("*").Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrMissionNotFound, m.ID)
	}
	return nil
}

func (s *GormMissionStore) List(ctx context.Context, filter MissionFilter) ([]*models.Mission, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var missions []*models.Mission
	return missions, q.Find(&missions).Error
}

// GormRuleStore keeps alert rules and firings in SQL tables
type GormRuleStore struct {
	db *gorm.DB
}

// NewGormRuleStore wraps an open database
func NewGormRuleStore(db *gorm.DB) *GormRuleStore {
	return &GormRuleStore{db: db}
}

func (s *GormRuleStore) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

func (s *GormRuleStore) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := s.db.WithContext(ctx).First(&rule, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *GormRuleStore) ListRules(ctx context.Context, userID string) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return rules, q.Find(&rules).Error
}

func (s *GormRuleStore) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	res := s.db.WithContext(ctx).Model(&models.AlertRule{}).Where("id = ?", rule.ID).Select("*").Updates(rule)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	return nil
}

func (s *GormRuleStore) DeleteRule(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.AlertRule{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return nil
}

func (s *GormRuleStore) AppendFiring(ctx context.Context, f *models.AlertFiring) error {
	return s.db.WithContext(ctx).Create(f).Error
}

func (s *GormRuleStore) ResolveFiring(ctx context.Context, ruleID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.AlertFiring{}).
		Where("rule_id = ? AND resolved_at IS NULL", ruleID).
		Update("resolved_at", at).Error
}

func (s *GormRuleStore) ListFirings(ctx context.Context, userID string) ([]*models.AlertFiring, error) {
	var firings []*models.AlertFiring
	q := s.db.WithContext(ctx).Order("fired_at ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return firings, q.Find(&firings).Error
}
