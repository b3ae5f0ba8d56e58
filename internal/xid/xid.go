package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// SaleKey builds the idempotency key for a sale: sale-{ts}-{productId}-{random}.
func SaleKey(at time.Time, productID int64) string {
	return fmt.Sprintf("sale-%d-%d-%s", at.UnixMilli(), productID, random())
}

func PaymentKey(at time.Time) string {
	return fmt.Sprintf("payment-%d-%s", at.UnixMilli(), random())
}

func random() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
