package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeatureVector is the model input. JSON names match the training data
// columns the classifier was fitted on.
type FeatureVector struct {
	Step                  int64   `json:"step"`
	Amount                float64 `json:"amount"`
	OldBalanceOrig        float64 `json:"oldbalanceOrg"`
	NewBalanceOrig        float64 `json:"newbalanceOrig"`
	OldBalanceDest        float64 `json:"oldbalanceDest"`
	NewBalanceDest        float64 `json:"newbalanceDest"`
	Hour                  int     `json:"hour"`
	IsNight               bool    `json:"is_night"`
	AmountRatio           float64 `json:"amount_ratio"`
	SenderBalanceChange   float64 `json:"sender_balance_change"`
	ReceiverBalanceChange float64 `json:"receiver_balance_change"`
	OrigBalanceZero       bool    `json:"orig_balance_zero"`
	DestBalanceZero       bool    `json:"dest_balance_zero"`
	TypeTransfer          bool    `json:"type_TRANSFER"`
}

// BuildFeatures derives the model input for moving amount from a sender
// holding senderBalance to a receiver holding receiverBalance at now.
// Arithmetic is exact in decimal; only the results are converted to float.
func BuildFeatures(now time.Time, amount, senderBalance, receiverBalance decimal.Decimal) FeatureVector {
	now = now.UTC()
	senderAfter := senderBalance.Sub(amount)
	receiverAfter := receiverBalance.Add(amount)

	ratio := amount
	if senderBalance.IsPositive() {
		ratio = amount.Div(senderBalance)
	}

	return FeatureVector{
		Step:                  now.Unix() / 3600,
		Amount:                amount.InexactFloat64(),
		OldBalanceOrig:        senderBalance.InexactFloat64(),
		NewBalanceOrig:        senderAfter.InexactFloat64(),
		OldBalanceDest:        receiverBalance.InexactFloat64(),
		NewBalanceDest:        receiverAfter.InexactFloat64(),
		Hour:                  now.Hour(),
		IsNight:               now.Hour() < 6,
		AmountRatio:           ratio.InexactFloat64(),
		SenderBalanceChange:   senderBalance.Sub(senderAfter).InexactFloat64(),
		ReceiverBalanceChange: receiverAfter.Sub(receiverBalance).InexactFloat64(),
		OrigBalanceZero:       senderBalance.IsZero(),
		DestBalanceZero:       receiverBalance.IsZero(),
		TypeTransfer:          true,
	}
}
