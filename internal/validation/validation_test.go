package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/realsamir007/online-transaction-fraud-detection-system/internal/idgen"
)

func TestIsValidAccountNumber(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1234", true},
		{"000111222333", true},
		{"GB82WEST12345698765432", true},

		{"123", false},
		{"1234567890123456789012345678901234X", false},
		{"1234-5678", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := IsValidAccountNumber(tc.value); got != tc.valid {
			t.Errorf("IsValidAccountNumber(%q) = %v, want %v", tc.value, got, tc.valid)
		}
	}
}

func TestIsValidBankCode(t *testing.T) {
	if !IsValidBankCode("CAPBANK001") {
		t.Error("CAPBANK001 should be valid")
	}
	if IsValidBankCode("AB") {
		t.Error("2 chars should be invalid")
	}
	if IsValidBankCode("CAP BANK") {
		t.Error("spaces should be invalid")
	}
}

func TestIsValidIdempotencyKey(t *testing.T) {
	if !IsValidIdempotencyKey("b6f8c2e0-4a1d-4c55-9f0e-3a2d1c0b9e8f") {
		t.Error("uuid key should be valid")
	}
	if IsValidIdempotencyKey("short") {
		t.Error("short key should be invalid")
	}
	if IsValidIdempotencyKey("key with spaces!") {
		t.Error("spaces should be invalid")
	}
}

func TestIsNumericCode(t *testing.T) {
	for _, code := range []string{"0000", "123456", "0123456789"} {
		if !IsNumericCode(code) {
			t.Errorf("%q should be valid", code)
		}
	}
	for _, code := range []string{"123", "12345678901", "12a456", ""} {
		if IsNumericCode(code) {
			t.Errorf("%q should be invalid", code)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := NormalizeAccountNumber(" gb82 west 1234 "); got != "GB82WEST1234" {
		t.Errorf("NormalizeAccountNumber = %q", got)
	}
	if got := NormalizeBankCode(" capbank001 "); got != "CAPBANK001" {
		t.Errorf("NormalizeBankCode = %q", got)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
		{"héllo", 2, "hé"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("receiver_account_number", "000111222333"),
		AccountNumber("receiver_account_number", "000111222333"),
		BankCode("receiver_bank_code", "CAPBANK001"),
	)
	if len(errs) != 0 {
		t.Errorf("Expected no errors, got %v", errs)
	}

	errs = Validate(
		Required("receiver_account_number", ""),
		BankCode("receiver_bank_code", "X"),
		ValidAmount("amount", "-5"),
	)
	if len(errs) != 3 {
		t.Fatalf("Expected 3 errors, got %d", len(errs))
	}
	if errs.Error() != "receiver_account_number: is required" {
		t.Errorf("unexpected message %q", errs.Error())
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1.00", true},
		{"0.50", true},
		{"100", true},
		{"1200.00", true},
		{"0.010", true},

		{"0.001", false},
		{"0", false},
		{"0.00", false},
		{"abc", false},
		{"-1.00", false},
		{"1.2.3", false},
		{"1e3", false},
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		valid := err == nil
		if valid != tc.valid {
			t.Errorf("ValidAmount(%q) valid=%v, want %v", tc.value, valid, tc.valid)
		}
	}
}

func TestMaxLength(t *testing.T) {
	if err := MaxLength("note", "hello", 10)(); err != nil {
		t.Error("Expected no error for string under limit")
	}
	if err := MaxLength("note", "hello", 5)(); err != nil {
		t.Error("Expected no error for string at limit")
	}
	if err := MaxLength("note", "hello world", 5)(); err == nil {
		t.Error("Expected error for string over limit")
	}
}

func TestTransferIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/transfers/:id", TransferIDParamMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/transfers/"+idgen.WithPrefix(idgen.Transfer), nil))
	if w.Code != http.StatusOK {
		t.Errorf("valid id: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/transfers/not-an-id", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("invalid id: expected 404, got %d", w.Code)
	}
}
