package config

import (
	"regexp"
	"strings"
)

var (
	videoIDExact = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	videoIDURL   = regexp.MustCompile(`(?:youtube\.com/watch\?(?:.*&)?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([A-Za-z0-9_-]{11})`)
	videoIDAny   = regexp.MustCompile(`[A-Za-z0-9_-]{11}`)
)

// ExtractVideoID 从视频 ID 或各种 YouTube URL 中提取 11 位视频 ID
// 无法识别时原样返回
func ExtractVideoID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || videoIDExact.MatchString(s) {
		return s
	}
	if m := videoIDURL.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if m := videoIDAny.FindString(s); m != "" {
		return m
	}
	return s
}
