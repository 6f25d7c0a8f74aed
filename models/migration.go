package models

import (
	"gorm.io/gorm"
)

// MigrateTable migrates the tables this service owns.
func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&PaymentEvent{},
		&PeriodAggregate{},
		&ReconciliationRun{},
		&ProcessorAccount{},
	)
}

// MigrateCollaboratorTables creates the read-model tables owned by other
// services. Only used in tests and local development.
func MigrateCollaboratorTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountLink{},
		&ManualLedgerEntry{},
		&Invoice{},
		&IncomeEntry{},
		&RecurringRevenueEntry{},
	)
}
