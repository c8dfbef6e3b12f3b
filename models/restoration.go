package models

import (
	"time"
)

// RestorationSnapshot 跳转到第三方App前保存的表单状态
type RestorationSnapshot struct {
	Key       string           `gorm:"column:session_key;primaryKey;size:64" json:"key" dynamodbav:"session_key"`
	Contact   DonorContactInfo `gorm:"serializer:json;type:text" json:"contact" dynamodbav:"contact"`
	Donation  DonationAmount   `gorm:"serializer:json;type:text" json:"donation" dynamodbav:"donation"`
	CreatedAt time.Time        `gorm:"index" json:"created_at" dynamodbav:"created_at"`
	// ExpiresAt 供 DynamoDB TTL 使用
	ExpiresAt int64 `gorm:"-" json:"-" dynamodbav:"expires_at,omitempty"`
}

// TableName gorm表名
func (RestorationSnapshot) TableName() string {
	return "restoration_snapshots"
}
