package utils

import (
	"github.com/skip2/go-qrcode"
)

// DefaultQRCodeSize 默认二维码边长（像素）
const DefaultQRCodeSize = 256

// GenerateQRCode 生成二维码PNG，size<=0时使用默认尺寸
func GenerateQRCode(text string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRCodeSize
	}
	return qrcode.Encode(text, qrcode.Medium, size)
}
