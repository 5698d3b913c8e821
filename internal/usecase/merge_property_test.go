package usecase

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/vitos/brokerage_gateway/internal/domain"
)

var mergeStatuses = []domain.OrderStatus{
	domain.OrderStatusNew,
	domain.OrderStatusAccepted,
	domain.OrderStatusPendingCancel,
	domain.OrderStatusPartiallyFilled,
	domain.OrderStatusFilled,
	domain.OrderStatusCanceled,
	domain.OrderStatusExpired,
	domain.OrderStatusRejected,
}

type brokerUpdate struct {
	Status  int
	Filled  int64
	Stamped bool
}

func genBrokerUpdate() gopter.Gen {
	return gen.Struct(reflect.TypeOf(brokerUpdate{}), map[string]gopter.Gen{
		"Status":  gen.IntRange(0, len(mergeStatuses)-1),
		"Filled":  gen.Int64Range(0, 15),
		"Stamped": gen.Bool(),
	})
}

// Property: across any sequence of broker views, filled quantity never
// decreases and a timestamp once set is never cleared.
func TestProperty_SyncNeverLosesProgress(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2026, 2, 1, 15, 0, 0, 0, time.UTC)

	properties.Property("filled and timestamps are monotonic", prop.ForAll(
		func(updates []brokerUpdate) bool {
			order := &domain.Order{
				Quantity:       decimal.NewFromInt(10),
				FilledQuantity: decimal.Zero,
				Status:         domain.OrderStatusAccepted,
			}

			for i, u := range updates {
				prevFilled := order.FilledQuantity
				hadFilledAt := order.FilledAt != nil
				hadCanceledAt := order.CanceledAt != nil
				wasTerminal := order.Status.Terminal()

				bo := &domain.BrokerOrder{
					Status:         mergeStatuses[u.Status],
					FilledQuantity: decimal.NewFromInt(u.Filled),
				}
				if u.Stamped {
					at := base.Add(time.Duration(i) * time.Minute)
					bo.FilledAt = &at
					bo.CanceledAt = &at
				}
				MergeBrokerOrder(order, bo)

				if order.FilledQuantity.LessThan(prevFilled) {
					return false
				}
				if order.FilledQuantity.GreaterThan(order.Quantity) {
					return false
				}
				if hadFilledAt && order.FilledAt == nil {
					return false
				}
				if hadCanceledAt && order.CanceledAt == nil {
					return false
				}
				if wasTerminal && !order.Status.Terminal() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genBrokerUpdate()),
	))

	properties.TestingRun(t)
}
