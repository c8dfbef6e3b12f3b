package utils

import (
	"github.com/google/uuid"
)

// GenerateConnID 生成页面会话连接ID
func GenerateConnID() string {
	return uuid.NewString()
}
