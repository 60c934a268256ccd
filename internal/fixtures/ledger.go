// Package fixtures provides a small ledger-account domain used by tests
// across the repository: typed events with a real schema migration, an
// aggregate with invariants, and a registration helper.
package fixtures

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/strata-lab/strata/internal/codec"
	"github.com/strata-lab/strata/internal/repository"
)

// AggregateTypeAccount is the aggregate type tag for ledger accounts.
const AggregateTypeAccount = "ledger.account"

// AccountOpened starts an account's history.
type AccountOpened struct {
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
}

func (AccountOpened) EventType() string { return "ledger.account_opened" }

// FundsDeposited credits the account. Schema v2: v1 carried the amount as
// integer cents under "amount_cents"; v2 carries a decimal string under
// "amount".
type FundsDeposited struct {
	Amount decimal.Decimal `json:"amount"`
}

func (FundsDeposited) EventType() string { return "ledger.funds_deposited" }

// FundsWithdrawn debits the account.
type FundsWithdrawn struct {
	Amount decimal.Decimal `json:"amount"`
}

func (FundsWithdrawn) EventType() string { return "ledger.funds_withdrawn" }

// RegisterEvents populates the registry with the ledger event types and
// the deposited-funds v1 -> v2 upcaster.
func RegisterEvents(r *codec.Registry) {
	r.Register(AccountOpened{}.EventType(), 1, func() codec.Event { return &AccountOpened{} })
	r.Register(FundsDeposited{}.EventType(), 2, func() codec.Event { return &FundsDeposited{} })
	r.Register(FundsWithdrawn{}.EventType(), 1, func() codec.Event { return &FundsWithdrawn{} })

	r.RegisterUpcaster(FundsDeposited{}.EventType(), 1, UpcastDepositCentsToDecimal)
}

// UpcastDepositCentsToDecimal migrates a v1 deposited-funds payload
// ("amount_cents": 1250) to the v2 shape ("amount": "12.50").
func UpcastDepositCentsToDecimal(payload map[string]any) (map[string]any, error) {
	cents, ok := payload["amount_cents"]
	if !ok {
		return nil, fmt.Errorf("v1 payload missing amount_cents")
	}

	n, ok := cents.(float64) // encoding/json decodes numbers as float64
	if !ok {
		return nil, fmt.Errorf("amount_cents has unexpected type %T", cents)
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "amount_cents" {
			continue
		}
		out[k] = v
	}
	out["amount"] = decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(100)).String()
	return out, nil
}

// Account is an event-sourced ledger account.
type Account struct {
	repository.Base

	Owner    string
	Currency string
	Balance  decimal.Decimal
	Open     bool
}

// NewAccount creates an empty account shell ready for loading or opening.
func NewAccount(id string) *Account {
	return &Account{Base: repository.NewBase(id, AggregateTypeAccount)}
}

// OpenAccount records the opening event. Fails when already open.
func (a *Account) OpenAccount(owner, currency string) error {
	if a.Open {
		return fmt.Errorf("account %q already open", a.AggregateID())
	}
	a.Record(&AccountOpened{Owner: owner, Currency: currency})
	return nil
}

// Deposit records a credit.
func (a *Account) Deposit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("deposit must be positive, got %s", amount)
	}
	a.Record(&FundsDeposited{Amount: amount})
	return nil
}

// Withdraw records a debit. The balance check runs against committed state
// plus already recorded events, folded on save.
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("withdrawal must be positive, got %s", amount)
	}
	if a.projectedBalance().LessThan(amount) {
		return fmt.Errorf("insufficient funds: balance %s, requested %s", a.projectedBalance(), amount)
	}
	a.Record(&FundsWithdrawn{Amount: amount})
	return nil
}

// projectedBalance folds pending events over the committed balance.
func (a *Account) projectedBalance() decimal.Decimal {
	balance := a.Balance
	for _, evt := range a.UncommittedEvents() {
		switch e := evt.(type) {
		case *FundsDeposited:
			balance = balance.Add(e.Amount)
		case *FundsWithdrawn:
			balance = balance.Sub(e.Amount)
		}
	}
	return balance
}

// ApplyEvent implements repository.Aggregate.
func (a *Account) ApplyEvent(evt codec.Event) error {
	switch e := evt.(type) {
	case *AccountOpened:
		a.Owner = e.Owner
		a.Currency = e.Currency
		a.Balance = decimal.Zero
		a.Open = true
	case *FundsDeposited:
		a.Balance = a.Balance.Add(e.Amount)
	case *FundsWithdrawn:
		a.Balance = a.Balance.Sub(e.Amount)
	default:
		return fmt.Errorf("unexpected event type %T", evt)
	}
	return nil
}

type accountState struct {
	Owner    string          `json:"owner"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Open     bool            `json:"open"`
}

// SnapshotState implements repository.Snapshottable.
func (a *Account) SnapshotState() ([]byte, error) {
	return json.Marshal(accountState{
		Owner:    a.Owner,
		Currency: a.Currency,
		Balance:  a.Balance,
		Open:     a.Open,
	})
}

// RestoreSnapshot implements repository.Snapshottable.
func (a *Account) RestoreSnapshot(state []byte) error {
	var s accountState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	a.Owner = s.Owner
	a.Currency = s.Currency
	a.Balance = s.Balance
	a.Open = s.Open
	return nil
}

var (
	_ repository.Aggregate     = (*Account)(nil)
	_ repository.Snapshottable = (*Account)(nil)
)
