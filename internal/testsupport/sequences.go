package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// Global counter for generating unique sequential IDs in tests
	testSequence uint64

	// Base timestamp to make names shorter
	baseTimestamp = time.Now().UnixNano()
)

func init() {
	// Initialize with current timestamp to ensure uniqueness across test runs
	testSequence = uint64(baseTimestamp % 1000000)
}

// NextSequence returns next unique sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&testSequence, 1)
}

// UniqueUserID generates a user id that no other test in the run shares
// Example: UniqueUserID() -> "user_123456"
func UniqueUserID() string {
	return fmt.Sprintf("user_%d", NextSequence())
}

// UniqueKeyPrefix generates a redis key prefix so parallel suites never collide
// Example: UniqueKeyPrefix("usage") -> "test:usage:123456:1a2b3c4d:"
func UniqueKeyPrefix(base string) string {
	return fmt.Sprintf("test:%s:%d:%s:", base, NextSequence(), uuid.New().String()[:8])
}
