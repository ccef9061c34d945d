package core

// Achievement predicates are recomputed from current data on every view.
// There is no persisted unlock state; a badge can relock when the data
// changes, which mirrors how the product behaves.

// Achievements is the evaluated badge set for one user.
type Achievements struct {
	FirstExpense bool // at least one expense logged
	SavedMoney   bool // spent under 80% of a positive budget
	BudgetMaster bool // spent within a positive budget
}

// HasAnyExpense reports whether the user has logged at least one expense.
func HasAnyExpense(expenses []Expense) bool {
	return len(expenses) > 0
}

// SpentUnderSavingsGoal reports whether total spend is strictly below 80%
// of the budget. A zero or negative budget never qualifies.
func SpentUnderSavingsGoal(expenses []Expense, budget Money) bool {
	if budget.Cents <= 0 {
		return false
	}
	// 80% of the budget, compared in cents scaled by 10 to stay integral.
	return TotalSpent(expenses).Cents*10 < budget.Cents*8
}

// WithinBudget reports whether total spend is at or under the budget.
// A zero or negative budget never qualifies.
func WithinBudget(expenses []Expense, budget Money) bool {
	if budget.Cents <= 0 {
		return false
	}
	return TotalSpent(expenses).Cents <= budget.Cents
}

// EvaluateAchievements computes all badges independently.
func EvaluateAchievements(expenses []Expense, budget Money) Achievements {
	return Achievements{
		FirstExpense: HasAnyExpense(expenses),
		SavedMoney:   SpentUnderSavingsGoal(expenses, budget),
		BudgetMaster: WithinBudget(expenses, budget),
	}
}
