package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

const alertStream = "ledger:alerts"

type OperatorAlert struct {
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	EventType string    `json:"event_type"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	Details   any       `json:"details"`
}

// Alerter surfaces conditions that need a human. The withdrawal coordinator
// and the reconciler must not proceed silently past any of these.
type Alerter interface {
	AmbiguousPayout(ctx context.Context, accountID, bolt11 string, amount int64)
	UnsettledDebit(ctx context.Context, accountID string, amount int64, reference string, err error)
	UnmappedDeposit(ctx context.Context, reference string, amount int64, memo string)
}

// AlertService records conditions that need a human: ambiguous payouts and
// ledger state that no longer matches the external wallet. Alerts always go
// to the log; when Redis is up they are also appended to a stream an
// operator console can consume.
type AlertService struct {
	redis *redis.Client
	now   func() time.Time
}

func NewAlertService(rdb *redis.Client) *AlertService {
	return &AlertService{redis: rdb, now: time.Now}
}

// AmbiguousPayout records a payout whose outcome is unknown. It must never
// be retried automatically; the operator decides after checking the wallet.
func (a *AlertService) AmbiguousPayout(ctx context.Context, accountID, bolt11 string, amount int64) {
	a.record(ctx, OperatorAlert{
		Timestamp: a.now(),
		Severity:  "warning",
		EventType: "AMBIGUOUS_PAYOUT",
		AccountID: accountID,
		Amount:    amount,
		Details:   map[string]string{"bolt11": bolt11},
	})
}

// UnsettledDebit records the worst case: money left the external wallet but
// the local debit failed. The ledger is now ahead of reality until an
// operator reconciles by hand.
func (a *AlertService) UnsettledDebit(ctx context.Context, accountID string, amount int64, reference string, err error) {
	a.record(ctx, OperatorAlert{
		Timestamp: a.now(),
		Severity:  "fatal",
		EventType: "UNSETTLED_DEBIT",
		AccountID: accountID,
		Amount:    amount,
		Reference: reference,
		Details:   map[string]string{"error": err.Error()},
	})
}

// UnmappedDeposit records an incoming payment with no invoice mapping. The
// payment stays unconsumed so it can be attributed manually.
func (a *AlertService) UnmappedDeposit(ctx context.Context, reference string, amount int64, memo string) {
	a.record(ctx, OperatorAlert{
		Timestamp: a.now(),
		Severity:  "warning",
		EventType: "UNMAPPED_DEPOSIT",
		Amount:    amount,
		Reference: reference,
		Details:   map[string]string{"memo": memo},
	})
}

func (a *AlertService) record(ctx context.Context, alert OperatorAlert) {
	data, _ := json.Marshal(alert)
	log.Printf("ALERT: %s", string(data))

	if a.redis == nil {
		return
	}
	err := a.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: alertStream,
		Values: map[string]interface{}{"alert": string(data)},
	}).Err()
	if err != nil {
		log.Printf("ALERT: failed to append to %s: %v", alertStream, err)
	}
}
