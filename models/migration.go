package models

import (
	"log"

	"github.com/mmdatafocus/stockbook_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Currency{}, &CurrencyExchange{},
		&Customer{},
		&Role{}, &User{},
		&Product{},
		&Invoice{}, &InvoiceItem{}, &InvoiceTransaction{},
		&SalesReturn{}, &SalesReturnDetail{}, &CreditNote{},
		&History{},
		&AuditOutboxRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
