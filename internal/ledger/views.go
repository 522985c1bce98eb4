package ledger

import "time"

// AccountView is the JSON shape of an account. Money is a two-decimal string.
type AccountView struct {
	ID            string    `json:"id"`
	HolderName    string    `json:"holderName"`
	AccountNumber string    `json:"accountNumber"`
	BankCode      string    `json:"bankCode"`
	Currency      string    `json:"currency"`
	Balance       string    `json:"balance"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewAccountView renders an account.
func NewAccountView(a *Account) AccountView {
	return AccountView{
		ID:            a.ID,
		HolderName:    a.HolderName,
		AccountNumber: a.AccountNumber,
		BankCode:      a.BankCode,
		Currency:      a.Currency,
		Balance:       Money(a.Balance),
		Active:        a.Active,
		CreatedAt:     a.CreatedAt,
	}
}

// TransferView is the JSON shape of a transfer.
type TransferView struct {
	ID                    string    `json:"id"`
	SenderAccountNumber   string    `json:"senderAccountNumber"`
	SenderBankCode        string    `json:"senderBankCode"`
	ReceiverAccountNumber string    `json:"receiverAccountNumber"`
	ReceiverBankCode      string    `json:"receiverBankCode"`
	Amount                string    `json:"amount"`
	Currency              string    `json:"currency"`
	Note                  string    `json:"note,omitempty"`
	Status                Status    `json:"status"`
	RiskLevel             string    `json:"riskLevel,omitempty"`
	FraudProbability      *float64  `json:"fraudProbability,omitempty"`
	Direction             string    `json:"direction,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// NewTransferView renders a transfer. direction may be empty.
func NewTransferView(t *Transfer, direction string) TransferView {
	return TransferView{
		ID:                    t.ID,
		SenderAccountNumber:   t.SenderAccountNumber,
		SenderBankCode:        t.SenderBankCode,
		ReceiverAccountNumber: t.ReceiverAccountNumber,
		ReceiverBankCode:      t.ReceiverBankCode,
		Amount:                Money(t.Amount),
		Currency:              t.Currency,
		Note:                  t.Note,
		Status:                t.Status,
		RiskLevel:             t.RiskLevel,
		FraudProbability:      t.FraudProbability,
		Direction:             direction,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

// EntryView is the JSON shape of a ledger entry.
type EntryView struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"accountId"`
	Direction     Direction `json:"direction"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balanceBefore"`
	BalanceAfter  string    `json:"balanceAfter"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewEntryViews renders entries.
func NewEntryViews(entries []*Entry) []EntryView {
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryView{
			ID:            e.ID,
			AccountID:     e.AccountID,
			Direction:     e.Direction,
			Amount:        Money(e.Amount),
			BalanceBefore: Money(e.BalanceBefore),
			BalanceAfter:  Money(e.BalanceAfter),
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}
