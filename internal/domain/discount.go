package domain

// MaxIdenticalItems - предельное количество единиц одного товара в продаже.
const MaxIdenticalItems = 20

// DiscountTier описывает ступень скидки по количеству одинаковых товаров.
type DiscountTier struct {
	MinQty  int32
	MaxQty  int32
	Percent int64
}

// DiscountTiers - таблица скидок, упорядоченная по возрастанию количества.
var DiscountTiers = []DiscountTier{
	{MinQty: 1, MaxQty: 3, Percent: 0},
	{MinQty: 4, MaxQty: 9, Percent: 10},
	{MinQty: 10, MaxQty: MaxIdenticalItems, Percent: 20},
}

// DiscountRate возвращает процент скидки для суммарного количества одного товара.
func DiscountRate(qty int32) (int64, error) {
	if qty <= 0 {
		return 0, ErrItemQtyInvalid
	}
	for _, tier := range DiscountTiers {
		if qty >= tier.MinQty && qty <= tier.MaxQty {
			return tier.Percent, nil
		}
	}
	return 0, ErrQuantityLimitExceeded
}

// discountAmount считает скидку в минимальных единицах с округлением половины вверх.
func discountAmount(qty int32, unitPrice, percent int64) (int64, error) {
	if percent == 0 {
		return 0, nil
	}
	gross, err := mulAmount(int64(qty), unitPrice)
	if err != nil {
		return 0, err
	}
	scaled, err := mulAmount(gross, percent)
	if err != nil {
		return 0, err
	}
	scaled, err = addAmount(scaled, 50)
	if err != nil {
		return 0, err
	}
	return scaled / 100, nil
}
