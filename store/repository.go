package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/meetingflow/internal/database"
	"github.com/BaSui01/meetingflow/meeting"
	"github.com/BaSui01/meetingflow/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 🗄️ Repository
// =============================================================================

// Repository 讲者档案与出勤记录仓储。
type Repository struct {
	pool       *database.PoolManager
	location   *time.Location
	maxRetries int
	logger     *zap.Logger
}

// RepositoryOption 配置 Repository。
type RepositoryOption func(*Repository)

// WithLocation 出勤日期按该时区计算，默认 time.Local。
func WithLocation(loc *time.Location) RepositoryOption {
	return func(r *Repository) {
		if loc != nil {
			r.location = loc
		}
	}
}

// WithMaxRetries 出勤写入的事务重试次数，默认 3。
func WithMaxRetries(n int) RepositoryOption {
	return func(r *Repository) { r.maxRetries = n }
}

// NewRepository 创建仓储。
func NewRepository(pool *database.PoolManager, logger *zap.Logger, opts ...RepositoryOption) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		pool:       pool,
		location:   time.Local,
		maxRetries: 3,
		logger:     logger.With(zap.String("component", "store")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AutoMigrate 按模型建表。生产环境使用 migrate 子命令。
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.pool.DB().WithContext(ctx).AutoMigrate(&Provider{}, &ProviderAttendance{})
}

// Profile 查询讲者档案，不存在时返回 PROFILE_NOT_FOUND。
func (r *Repository) Profile(ctx context.Context, id meeting.Identity) (meeting.Profile, error) {
	key := strings.TrimSpace(string(id))
	if key == "" {
		return meeting.Profile{}, types.NewError(types.ErrProfileNotFound, "empty identity")
	}

	var p Provider
	err := r.pool.DB().WithContext(ctx).Where("user_num = ?", key).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return meeting.Profile{}, types.NewError(types.ErrProfileNotFound, fmt.Sprintf("provider %s not found", key))
	}
	if err != nil {
		return meeting.Profile{}, fmt.Errorf("query provider %s: %w", key, err)
	}
	return p.Profile(), nil
}

// SaveProfile 新增或更新讲者档案。
func (r *Repository) SaveProfile(ctx context.Context, p meeting.Profile) error {
	if !p.Identity.Valid() {
		return types.NewError(types.ErrInvalidRequest, "invalid identity")
	}
	rec := Provider{
		UserNum:   string(p.Identity),
		FirstName: p.DisplayName,
		ImageURL:  p.ImageRef,
	}
	err := r.pool.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_num"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "image_url", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save provider %s: %w", rec.UserNum, err)
	}
	return nil
}

// MarkAttendance 记录出勤；同一天重复标记是无操作。
func (r *Repository) MarkAttendance(ctx context.Context, id meeting.Identity, at time.Time) error {
	if !id.Valid() {
		return types.NewError(types.ErrInvalidRequest, "invalid identity")
	}

	rec := ProviderAttendance{
		UserNum:    string(id),
		AttendedOn: at.In(r.location).Format(DateLayout),
		MarkedAt:   at.UTC(),
	}

	var inserted bool
	err := r.pool.WithTransactionRetry(ctx, r.maxRetries, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_num"}, {Name: "attended_on"}},
			DoNothing: true,
		}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark attendance for %s: %w", id, err)
	}

	if inserted {
		r.logger.Info("attendance recorded", zap.String("user_num", rec.UserNum), zap.String("date", rec.AttendedOn))
	} else {
		r.logger.Debug("attendance already recorded", zap.String("user_num", rec.UserNum), zap.String("date", rec.AttendedOn))
	}
	return nil
}

// AttendanceOn 返回某一天的出勤记录，按标记时间排序。
func (r *Repository) AttendanceOn(ctx context.Context, day time.Time) ([]ProviderAttendance, error) {
	var out []ProviderAttendance
	err := r.pool.DB().WithContext(ctx).
		Where("attended_on = ?", day.In(r.location).Format(DateLayout)).
		Order("marked_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	return out, nil
}
