package model

import "time"

// 变更事件类型
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
	ChangeDelete = "DELETE"
)

// 发件箱状态
const (
	ChangeStatusPending    = "pending"
	ChangeStatusProcessing = "processing"
	ChangeStatusDone       = "done"
)

// PostChange posts 表的变更发件箱，与业务写入同事务落地，由 relay 异步推送
type PostChange struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)"`
	PostID      string     `gorm:"type:varchar(36);index:idx_post_changes_post"`
	Event       string     `gorm:"type:varchar(8);not null"`
	Record      string     `gorm:"type:text"` // JSON，新行
	OldRecord   string     `gorm:"type:text"` // JSON，旧行
	Status      string     `gorm:"type:varchar(16);index:idx_post_changes_status_created"`
	CreatedAt   time.Time  `gorm:"index:idx_post_changes_status_created"`
	ProcessedAt *time.Time
}

func (PostChange) TableName() string { return "post_changes" }
