package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeyNamespacing(t *testing.T) {
	key := objectKey("u1", "s1", "report.pdf")

	assert.True(t, strings.HasPrefix(key, "users/u1/sessions/s1/"))
	assert.True(t, strings.HasSuffix(key, "/report.pdf"))
}

func TestObjectKeyUniquePerCall(t *testing.T) {
	a := objectKey("u1", "s1", "report.pdf")
	b := objectKey("u1", "s1", "report.pdf")

	assert.NotEqual(t, a, b)
}
