package model

import "time"

// Post 墙上的一条帖子（权威记录）
type Post struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Author      string    `json:"author" gorm:"type:varchar(128);not null"`
	Content     string    `json:"content" gorm:"type:text;not null"`
	PhotoURL    *string   `json:"photo_url" gorm:"type:text"`
	ClientToken *string   `json:"client_token,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_posts_client_token"`
	CreatedAt   time.Time `json:"created_at" gorm:"index:idx_posts_created_at;not null"`
}

func (Post) TableName() string { return "posts" }
