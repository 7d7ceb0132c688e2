// Package disposition 决定返回给客户端的 Content-Disposition 值。
// 图片资源即使源站声明为 attachment，也改写为 inline 以便浏览器直接渲染；
// 其它资源保留源站原意。修正发生在读取时，已缓存的对象无需重新回源即可受益于规则调整。
package disposition

import "strings"

const (
	inline     = "inline"
	attachment = "attachment"
)

// ImageExtensions 列出需要强制 inline 的路径后缀，大小写敏感。
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".gif", ".tiff"}

// Fix 返回应发送的 Content-Disposition。空字符串视为头部缺失，返回 "inline"。
func Fix(requestPath, value string) string {
	if value == "" {
		return inline
	}
	if strings.Contains(value, attachment) && IsImagePath(requestPath) {
		return strings.ReplaceAll(value, attachment, inline)
	}
	return value
}

// IsImagePath 判断路径是否以图片后缀结尾。
func IsImagePath(requestPath string) bool {
	for _, ext := range ImageExtensions {
		if strings.HasSuffix(requestPath, ext) {
			return true
		}
	}
	return false
}
