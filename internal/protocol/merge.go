// Package protocol содержит общую для реплики и relay часть обмена:
// слияние полученных операций и ответы на сообщения инициатора.
package protocol

import (
	"context"
	"fmt"

	"github.com/iudanet/gophsync/internal/fingerprint"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// Store журнал операций одной стороны.
type Store interface {
	ExistingTimestamps(ctx context.Context, owner api.OwnerID, candidates []api.TimestampBytes) ([]api.TimestampBytes, error)
	AllTimestamps(ctx context.Context, owner api.OwnerID) ([]api.TimestampBytes, error)
	Operations(ctx context.Context, owner api.OwnerID, timestamps []api.TimestampBytes) ([]models.Operation, error)
}

// Applier сохраняет одну новую операцию.
// На реплике это расшифровка, проверка и LWW, на relay только запись в журнал.
type Applier interface {
	Apply(ctx context.Context, op models.Operation) error
}

// Prechecker проверяет всю пачку новых операций до применения первой из них.
// Applier может его реализовать, чтобы отклонить пачку целиком (например, по дрейфу часов).
type Prechecker interface {
	Precheck(ctx context.Context, ops []models.Operation) error
}

// Appender запись в журнал операций
type Appender interface {
	Append(ctx context.Context, op models.Operation) error
}

type appendOnly struct {
	appender Appender
}

func (a appendOnly) Apply(ctx context.Context, op models.Operation) error {
	return a.appender.Append(ctx, op)
}

// AppendOnly возвращает Applier, который только дописывает операции в журнал (relay).
func AppendOnly(appender Appender) Applier {
	return appendOnly{appender: appender}
}

// Merge применяет полученные операции владельца.
//
// Уже известные метки пропускаются, поэтому повтор пачки безопасен. Для новых
// операций вызывается Applier, после чего метка попадает в дерево отпечатков.
// При ошибке уже примененные операции остаются: журнал только дописывается,
// и следующий раунд продолжит с того же места. Возвращает число новых операций.
func Merge(ctx context.Context, store Store, applier Applier, trees *fingerprint.Cache, owner api.OwnerID, ops []models.Operation) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}

	candidates := make([]api.TimestampBytes, 0, len(ops))
	for _, op := range ops {
		if op.Owner != owner {
			return 0, fmt.Errorf("operation %s belongs to owner %s, expected %s", op.Timestamp, op.Owner, owner)
		}
		candidates = append(candidates, op.Timestamp)
	}

	existing, err := store.ExistingTimestamps(ctx, owner, candidates)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing timestamps: %w", err)
	}

	seen := make(map[api.TimestampBytes]struct{}, len(existing)+len(ops))
	for _, ts := range existing {
		seen[ts] = struct{}{}
	}

	fresh := make([]models.Operation, 0, len(ops)-len(existing))
	for _, op := range ops {
		if _, ok := seen[op.Timestamp]; ok {
			continue
		}
		seen[op.Timestamp] = struct{}{}
		fresh = append(fresh, op)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if pre, ok := applier.(Prechecker); ok {
		if err := pre.Precheck(ctx, fresh); err != nil {
			return 0, err
		}
	}

	for i, op := range fresh {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := applier.Apply(ctx, op); err != nil {
			return i, fmt.Errorf("failed to apply operation %s: %w", op.Timestamp, err)
		}
		trees.Insert(owner, op.Timestamp)
	}

	return len(fresh), nil
}

// ToOperations переводит пары с провода в операции владельца.
func ToOperations(owner api.OwnerID, pairs []api.OpPair) []models.Operation {
	ops := make([]models.Operation, len(pairs))
	for i, p := range pairs {
		ops[i] = models.Operation{Owner: owner, Timestamp: p.Timestamp, Ciphertext: p.Ciphertext}
	}
	return ops
}

// ToPairs переводит операции в пары для отправки.
func ToPairs(ops []models.Operation) []api.OpPair {
	pairs := make([]api.OpPair, len(ops))
	for i, op := range ops {
		pairs[i] = api.OpPair{Timestamp: op.Timestamp, Ciphertext: op.Ciphertext}
	}
	return pairs
}
