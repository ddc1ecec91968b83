package ratelimit

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type AnonymousUsage struct {
	IPAddress    string    `gorm:"column:ip_address;type:varchar(64);primaryKey" json:"ip_address"`
	UsageDate    string    `gorm:"type:varchar(10);primaryKey" json:"usage_date"`
	RequestCount int       `gorm:"not null;default:0" json:"request_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (AnonymousUsage) TableName() string { return "anonymous_usage" }

// SQLLimiter keeps one row per (ip, day). The read and the conditional write
// are two round trips, so concurrent bursts from one IP can overshoot the limit.
type SQLLimiter struct {
	db    *gorm.DB
	limit int
	now   func() time.Time
}

func NewSQLLimiter(db *gorm.DB, limit int) *SQLLimiter {
	return &SQLLimiter{db: db, limit: normalizeLimit(limit), now: time.Now}
}

// WithClock overrides the time source (tests).
func (l *SQLLimiter) WithClock(now func() time.Time) *SQLLimiter {
	return &SQLLimiter{db: l.db, limit: l.limit, now: now}
}

func (l *SQLLimiter) Check(ctx context.Context, ip string) (Result, error) {
	db := l.db.WithContext(ctx)
	day := usageDate(l.now())

	var row AnonymousUsage
	err := db.Where("ip_address = ? AND usage_date = ?", ip, day).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = AnonymousUsage{IPAddress: ip, UsageDate: day, RequestCount: 1}
		if err := db.Create(&row).Error; err != nil {
			return Result{}, err
		}
		return Result{Allowed: true, Remaining: remaining(l.limit, 1), Limit: l.limit}, nil
	case err != nil:
		return Result{}, err
	}

	if row.RequestCount >= l.limit {
		return Result{Allowed: false, Remaining: 0, Limit: l.limit}, nil
	}

	if err := db.Model(&AnonymousUsage{}).
		Where("ip_address = ? AND usage_date = ?", ip, day).
		Update("request_count", gorm.Expr("request_count + 1")).Error; err != nil {
		return Result{}, err
	}
	return Result{Allowed: true, Remaining: remaining(l.limit, row.RequestCount+1), Limit: l.limit}, nil
}

// Usage lists the counters of one day, busiest first.
func (l *SQLLimiter) Usage(ctx context.Context, day time.Time, limit int) ([]AnonymousUsage, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []AnonymousUsage
	err := l.db.WithContext(ctx).
		Where("usage_date = ?", usageDate(day)).
		Order("request_count DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
