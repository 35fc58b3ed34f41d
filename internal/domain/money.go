package domain

import "math"

// MaxUnitPrice - верхняя граница цены за единицу в минимальных единицах (10 000 000.00).
// С ней стоимость позиции и итоги продажи гарантированно помещаются в int64.
const MaxUnitPrice int64 = 1_000_000_000

// mulAmount перемножает денежные величины и сообщает о переполнении int64.
func mulAmount(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, ErrAmountOverflow
	}
	c := a * b
	if c/b != a {
		return 0, ErrAmountOverflow
	}
	return c, nil
}

// addAmount складывает денежные величины с проверкой переполнения.
func addAmount(a, b int64) (int64, error) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, ErrAmountOverflow
	}
	return c, nil
}
