package helpers

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

// GenOTPCode generates a secure random 6-digit verification code.
// The value is uniform in [100000, 999999], so the string is always
// exactly six ASCII digits with no leading zero.
func GenOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+100000, 10), nil
}
