package payment

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// ClickAction values on the wire: 0 = prepare, 1 = complete.
const (
	ClickActionPrepare  = "0"
	ClickActionComplete = "1"
)

// ClickSignParams are the request fields covered by Click's signature.
// MerchantPrepareID participates only for action=complete.
type ClickSignParams struct {
	ClickTransID      string
	ServiceID         string
	SecretKey         string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string // two-decimal string, exactly as sent on the wire
	Action            string
	SignTime          string
}

// ClickSignString reproduces Click's keyed digest: MD5 over the secret
// concatenated between the fields. This is the provider's wire protocol,
// not HMAC; it must not be "upgraded" without Click changing theirs.
func ClickSignString(p ClickSignParams) string {
	data := p.ClickTransID + p.ServiceID + p.SecretKey + p.MerchantTransID
	if p.Action == ClickActionComplete {
		data += p.MerchantPrepareID
	}
	data += p.Amount + p.Action + p.SignTime
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// VerifyClickSign checks the supplied sign_string. The compare is exact
// string equality; parsing either side as a number would mask mismatches.
func VerifyClickSign(p ClickSignParams, signString string) bool {
	return ClickSignString(p) == signString
}

// FormatClickAmount renders minor units (tiyin) the way Click formats sums:
// a decimal string with exactly two fraction digits. 1_500_000 -> "15000.00".
func FormatClickAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
