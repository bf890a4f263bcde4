package models

type InvoiceStatus string

const (
	InvoiceStatusUnpaid      InvoiceStatus = "Unpaid"
	InvoiceStatusPartialPaid InvoiceStatus = "Partial Paid"
	InvoiceStatusPaid        InvoiceStatus = "Paid"
	InvoiceStatusCancelled   InvoiceStatus = "Cancelled"
)

// ProductStatus is display state derived from line-item facts; it carries no
// authority of its own.
type ProductStatus string

const (
	ProductStatusInStock    ProductStatus = "InStock"
	ProductStatusProcessing ProductStatus = "Processing"
	ProductStatusSold       ProductStatus = "Sold"
)

type DiscountType string

const (
	DiscountTypePercent DiscountType = "P"
	DiscountTypeAmount  DiscountType = "A"
)

type TransactionType string

const (
	TransactionTypePayment TransactionType = "Payment"
	TransactionTypeRefund  TransactionType = "Refund"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "Cash"
	PaymentMethodBankTransfer PaymentMethod = "BankTransfer"
	PaymentMethodCard         PaymentMethod = "Card"
	PaymentMethodMobileWallet PaymentMethod = "MobileWallet"
	PaymentMethodStoreCredit  PaymentMethod = "StoreCredit"
)

// AuditReferenceType tags outbox/history records with the row they describe.
type AuditReferenceType string

const (
	AuditReferenceTypeProduct     AuditReferenceType = "products"
	AuditReferenceTypeInvoice     AuditReferenceType = "invoices"
	AuditReferenceTypeInvoiceItem AuditReferenceType = "invoice_items"
	AuditReferenceTypeTransaction AuditReferenceType = "invoice_transactions"
	AuditReferenceTypeSalesReturn AuditReferenceType = "sales_returns"
	AuditReferenceTypeCreditNote  AuditReferenceType = "credit_notes"
)

type OutboxPublishStatus = string

const (
	OutboxPublishStatusPending    OutboxPublishStatus = "PENDING"
	OutboxPublishStatusProcessing OutboxPublishStatus = "PROCESSING"
	OutboxPublishStatusPublished  OutboxPublishStatus = "PUBLISHED"
	OutboxPublishStatusFailed     OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead       OutboxPublishStatus = "DEAD"
)
