// Package validation provides input validation helpers and middleware for the transfer API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// Field bounds shared by the account and transfer APIs.
const (
	MinAccountNumberLen = 4
	MaxAccountNumberLen = 34
	MinBankCodeLen      = 3
	MaxBankCodeLen      = 20
	MaxNoteLen          = 200
	MaxAmountScale      = 2
)

var (
	accountNumberRegex  = regexp.MustCompile(`^[A-Za-z0-9]{4,34}$`)
	bankCodeRegex       = regexp.MustCompile(`^[A-Za-z0-9]{3,20}$`)
	idempotencyKeyRegex = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{8,128}$`)
	numericCodeRegex    = regexp.MustCompile(`^[0-9]{4,10}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAccountNumber checks for 4-34 alphanumeric characters (IBAN-sized).
func IsValidAccountNumber(s string) bool {
	return accountNumberRegex.MatchString(s)
}

// IsValidBankCode checks for 3-20 alphanumeric characters.
func IsValidBankCode(s string) bool {
	return bankCodeRegex.MatchString(s)
}

// IsValidIdempotencyKey checks the Idempotency-Key header format.
func IsValidIdempotencyKey(s string) bool {
	return idempotencyKeyRegex.MatchString(s)
}

// IsNumericCode checks that s is a 4-10 digit one-time code.
func IsNumericCode(s string) bool {
	return numericCodeRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen])
	}
	return s
}

// NormalizeAccountNumber trims and upper-cases an account number.
func NormalizeAccountNumber(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

// NormalizeBankCode trims and upper-cases a bank code.
func NormalizeBankCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length in characters
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len([]rune(value)) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// AccountNumber checks the account number format. Empty values pass; combine with Required.
func AccountNumber(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" || IsValidAccountNumber(value) {
			return nil
		}
		return &ValidationError{Field: field, Message: "must be 4-34 letters or digits"}
	}
}

// BankCode checks the bank code format. Empty values pass; combine with Required.
func BankCode(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" || IsValidBankCode(value) {
			return nil
		}
		return &ValidationError{Field: field, Message: "must be 3-20 letters or digits"}
	}
}

// ValidAmount checks that value is a positive decimal with at most two fractional digits.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil || strings.ContainsAny(value, "eE") {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		if !d.IsPositive() {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		if -d.Exponent() > MaxAmountScale && !d.Equal(d.Truncate(MaxAmountScale)) {
			return &ValidationError{Field: field, Message: "amount must have at most two decimal places"}
		}
		return nil
	}
}

// TransferIDParamMiddleware rejects malformed :id URL parameters early.
func TransferIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !idgen.Valid(idgen.Transfer, id) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "transfer_not_found",
				"message": "Transfer not found",
			})
			return
		}
		c.Next()
	}
}
