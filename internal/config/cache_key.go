package config

import "fmt"

type CacheKeyStruct struct{}

// UserSessionKey returns the cache key for a user's active login session (JTI).
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// ExamPaperKey returns the cache key for an exam's student-facing question set.
func (r *CacheKeyStruct) ExamPaperKey(examID string) string {
	return fmt.Sprintf("exam:%s:paper", examID)
}

var CacheKey = &CacheKeyStruct{}
