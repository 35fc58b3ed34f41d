package main

import (
	"context"
	"fmt"
	"time"
)

// runScenario создаёт продажу и, в зависимости от режима, изменяет и отменяет её.
func runScenario(ctx context.Context, client salesAPI, cfg config, index int, runID string, col *collector) (err error) {
	start := time.Now()
	defer func() {
		col.record("scenario", time.Since(start), statusLabel(err))
	}()

	req := buildSaleRequest(cfg, index, time.Now().UTC())
	saleID, err := timedCall(ctx, col, "CreateSale", cfg.timeout, func(ctx context.Context) (string, error) {
		return client.Create(ctx, req, idempotencyKey(cfg, "create", runID, index))
	})
	if err != nil {
		return err
	}

	if cfg.readAfterNew {
		if _, err := timedCall(ctx, col, "GetSale", cfg.timeout, func(ctx context.Context) (string, error) {
			return "", client.Get(ctx, saleID)
		}); err != nil {
			return err
		}
	}

	if cfg.mode == modeCreate {
		return nil
	}

	update := req
	update.Items = append([]saleItem(nil), req.Items...)
	update.Items[0].Quantity = min(update.Items[0].Quantity+5, 20)
	if _, err := timedCall(ctx, col, "UpdateSale", cfg.timeout, func(ctx context.Context) (string, error) {
		return "", client.Update(ctx, saleID, update, idempotencyKey(cfg, "update", runID, index))
	}); err != nil {
		return err
	}

	if cfg.mode == modeCreateUpdateCancel || shouldCancelScenario(index, cfg.cancelRate) {
		if _, err := timedCall(ctx, col, "CancelSale", cfg.timeout, func(ctx context.Context) (string, error) {
			return "", client.Cancel(ctx, saleID, idempotencyKey(cfg, "cancel", runID, index))
		}); err != nil {
			return err
		}
	}
	return nil
}

func timedCall(ctx context.Context, col *collector, name string, timeout time.Duration, fn func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := fn(callCtx)
	col.record(name, time.Since(start), statusLabel(err))
	return result, err
}

func buildSaleRequest(cfg config, index int, now time.Time) saleRequest {
	return saleRequest{
		SaleDate:     now.Truncate(24 * time.Hour),
		CustomerID:   int64(index + 1),
		CustomerName: fmt.Sprintf("%s-%d", cfg.customerTag, index),
		BranchID:     1,
		BranchName:   cfg.branchName,
		Items: []saleItem{{
			ProductID:   int64(index%50 + 1),
			ProductName: fmt.Sprintf("Product %d", index%50+1),
			Quantity:    cfg.quantity,
			UnitPrice:   cfg.unitPrice,
		}},
	}
}

func idempotencyKey(cfg config, op, runID string, index int) string {
	if !cfg.idempotent {
		return ""
	}
	return fmt.Sprintf("lt-%s-%s-%d", op, runID, index)
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
