package xid

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSaleKeyFormat(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	key := SaleKey(at, 42)

	assert.Regexp(t, regexp.MustCompile(`^sale-1700000000123-42-[0-9a-f]{12}$`), key)
	assert.NotEqual(t, key, SaleKey(at, 42))
}

func TestPaymentKeyFormat(t *testing.T) {
	key := PaymentKey(time.UnixMilli(5))

	assert.Regexp(t, regexp.MustCompile(`^payment-5-[0-9a-f]{12}$`), key)
}
