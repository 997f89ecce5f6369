// Package store 持久化讲者档案与出勤记录。
//
// Repository 基于 GORM 实现 meeting.ProfileStore 与 meeting.AttendanceRecorder；
// CachedProfiles 在其前面加一层 Redis 缓存。
package store

import (
	"time"

	"github.com/BaSui01/meetingflow/meeting"
)

// DateLayout 出勤日期格式。
const DateLayout = "2006-01-02"

// Provider 讲者档案。
type Provider struct {
	UserNum   string    `gorm:"column:user_num;primaryKey;size:64"`
	FirstName string    `gorm:"column:first_name;size:128;not null"`
	ImageURL  string    `gorm:"column:image_url;size:512"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Provider) TableName() string { return "providers" }

// Profile 转换为会议域的展示信息。
func (p Provider) Profile() meeting.Profile {
	return meeting.Profile{
		Identity:    meeting.Identity(p.UserNum),
		DisplayName: p.FirstName,
		ImageRef:    p.ImageURL,
	}
}

// ProviderAttendance 每人每天一条出勤记录。
type ProviderAttendance struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserNum    string    `gorm:"column:user_num;size:64;not null;uniqueIndex:uq_provider_attendance_day,priority:1"`
	AttendedOn string    `gorm:"column:attended_on;size:10;not null;uniqueIndex:uq_provider_attendance_day,priority:2"`
	MarkedAt   time.Time `gorm:"column:marked_at;not null"`
}

func (ProviderAttendance) TableName() string { return "provider_attendance" }
