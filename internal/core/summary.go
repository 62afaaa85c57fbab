package core

// ItemAmount is an amount aggregated by item (course or service) id.
type ItemAmount struct {
	ItemID string
	Amount Money
}

// IncomeSummary is the income collected within one period.
type IncomeSummary struct {
	Period Period
	Total  Money
	ByItem []ItemAmount
}

// ForItem returns the income collected for one item, zero when none.
func (s IncomeSummary) ForItem(itemID string) Money {
	for _, ia := range s.ByItem {
		if ia.ItemID == itemID {
			return ia.Amount
		}
	}
	return Money{}
}
