package objectstore

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestUploadKey(t *testing.T) {
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	key := UploadKey("u1", "f1", "invoice.pdf", at)
	assert.Equal(t, "uploads/u1/2026-08/f1/invoice.pdf", key)
}

func TestUploadKeySanitizesFilename(t *testing.T) {
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	key := UploadKey("u1", "f1", "../../etc/passwd", at)
	assert.Equal(t, "uploads/u1/2026-08/f1/passwd", key)

	key = UploadKey("u1", "f1", `C:\docs\scan.png`, at)
	assert.Equal(t, "uploads/u1/2026-08/f1/scan.png", key)

	key = UploadKey("u1", "f1", "", at)
	assert.Equal(t, "uploads/u1/2026-08/f1/file", key)
}

func TestResultKey(t *testing.T) {
	assert.Equal(t, "results/u1/t1/result.html", ResultKey("u1", "t1", "html"))
	assert.Equal(t, "results/u1/t1/result.html", ResultKey("u1", "t1", ".html"))
}

func TestVersionKey(t *testing.T) {
	assert.Equal(t, "versions/t1/3", VersionKey("t1", 3))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, EncryptionKMS, cfg.Encryption)
	assert.Equal(t, time.Hour, cfg.PresignGetTTL)
	assert.Equal(t, 15*time.Minute, cfg.PresignPutTTL)
	assert.Equal(t, 5, cfg.MaxAttempts)
}

func TestLifecyclePolicyDefaults(t *testing.T) {
	p := LifecyclePolicy{}
	p.ApplyDefaults()

	assert.EqualValues(t, 30, p.DeletedExpiryDays)
	assert.EqualValues(t, 7, p.DeletedColdAfterDays)
	assert.EqualValues(t, 7, p.MultipartAbortDays)
}

func TestCalculateBackoffBounds(t *testing.T) {
	s := &Store{config: Config{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		MaxAttempts:    5,
	}}

	for attempt := 0; attempt < 10; attempt++ {
		b := s.calculateBackoff(attempt)
		assert.GreaterOrEqual(t, b, 50*time.Millisecond, "attempt %d", attempt)
		assert.LessOrEqual(t, b, 2*time.Second, "attempt %d", attempt)
	}
}

func TestErrorClassification(t *testing.T) {
	notFound := &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	throttled := &smithy.GenericAPIError{Code: "SlowDown", Message: "slow down"}

	assert.ErrorIs(t, classify(notFound), ErrObjectNotFound)
	assert.ErrorIs(t, classify(denied), ErrAccessDenied)
	assert.ErrorIs(t, classify(throttled), ErrUnavailable)
	assert.NoError(t, classify(nil))

	assert.False(t, isRetryableError(notFound))
	assert.False(t, isRetryableError(denied))
	assert.True(t, isRetryableError(throttled))
	assert.True(t, isRetryableError(errors.New("read tcp: connection reset by peer")))
}

func TestParseUnixTag(t *testing.T) {
	at := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	parsed, ok := parseUnixTag(strconv.FormatInt(at.Unix(), 10))
	assert.True(t, ok)
	assert.True(t, parsed.Equal(at))

	_, ok = parseUnixTag("")
	assert.False(t, ok)
	_, ok = parseUnixTag("not-a-number")
	assert.False(t, ok)
}
