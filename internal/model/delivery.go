package model

import (
	"time"
)

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusShipped   DeliveryStatus = "shipped"
	StatusDelivered DeliveryStatus = "delivered"
)

// Scannable reports whether a courier may still verify or confirm the delivery.
// Pending and shipped are treated the same.
func (s DeliveryStatus) Scannable() bool {
	return s != StatusDelivered
}

// Delivery is the record kept for every order that contains a physical good.
// Secret is excluded from JSON so the record can be cached or logged without leaking it.
type Delivery struct {
	ID              string         `json:"id" db:"id"`
	OrderID         string         `json:"order_id" db:"order_id"`
	BuyerID         string         `json:"buyer_id" db:"buyer_id"`
	ProductName     string         `json:"product_name" db:"product_name"`
	BuyerName       string         `json:"buyer_name" db:"buyer_name"`
	BuyerPhone      string         `json:"buyer_phone" db:"buyer_phone"`
	ScanToken       string         `json:"-" db:"scan_token"`
	Secret          string         `json:"-" db:"secret"`
	Status          DeliveryStatus `json:"status" db:"status"`
	ExpiresAt       time.Time      `json:"expires_at" db:"expires_at"`
	ConfirmedAt     *time.Time     `json:"confirmed_at,omitempty" db:"confirmed_at"`
	ConfirmedBy     string         `json:"confirmed_by,omitempty" db:"confirmed_by"`
	ConfirmLocation *Location      `json:"confirm_location,omitempty"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the credential pair is no longer valid at now.
func (d *Delivery) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy,omitempty" validate:"gte=0"`
}

type EventType string

const (
	EventCredentialIssued   EventType = "credential_issued"
	EventCredentialReissued EventType = "credential_reissued"
	EventScanVerified       EventType = "scan_verified"
	EventScanRejected       EventType = "scan_rejected"
	EventConfirmRejected    EventType = "confirm_rejected"
	EventDelivered          EventType = "delivered"
	EventStatusChanged      EventType = "status_changed"
)

// DeliveryEvent is an append-only audit entry.
type DeliveryEvent struct {
	ID          string    `json:"id" db:"id"`
	DeliveryID  string    `json:"delivery_id" db:"delivery_id"`
	Type        EventType `json:"type" db:"type"`
	ActorID     string    `json:"actor_id,omitempty" db:"actor_id"`
	Location    *Location `json:"location,omitempty"`
	Description string    `json:"description" db:"description"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// DeliverySummary is what a buyer sees in their delivery list.
type DeliverySummary struct {
	OrderID     string         `json:"order_id"`
	ProductName string         `json:"product_name"`
	Status      DeliveryStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
}

func (d *Delivery) Summary() DeliverySummary {
	return DeliverySummary{
		OrderID:     d.OrderID,
		ProductName: d.ProductName,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
		ConfirmedAt: d.ConfirmedAt,
	}
}

// Credential is the token/secret pair shown to the buyer.
type Credential struct {
	OrderID     string    `json:"order_id"`
	ProductName string    `json:"product_name"`
	QRCode      string    `json:"qr_code"`
	QRSecret    string    `json:"qr_secret"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (d *Delivery) Credential() Credential {
	return Credential{
		OrderID:     d.OrderID,
		ProductName: d.ProductName,
		QRCode:      d.ScanToken,
		QRSecret:    d.Secret,
		ExpiresAt:   d.ExpiresAt,
	}
}

// IssuedCredential is what issuers get back. The secret is only ever shown to the buyer.
type IssuedCredential struct {
	OrderID     string    `json:"order_id"`
	ProductName string    `json:"product_name"`
	QRCode      string    `json:"qr_code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (c Credential) Issued() IssuedCredential {
	return IssuedCredential{
		OrderID:     c.OrderID,
		ProductName: c.ProductName,
		QRCode:      c.QRCode,
		ExpiresAt:   c.ExpiresAt,
	}
}

// ScanView is the reduced view a courier gets after a successful scan.
type ScanView struct {
	OrderID     string `json:"order_id"`
	ProductName string `json:"product_name"`
	BuyerName   string `json:"buyer_name"`
	BuyerPhone  string `json:"buyer_phone"`
}

func (d *Delivery) ScanView() ScanView {
	return ScanView{
		OrderID:     d.OrderID,
		ProductName: d.ProductName,
		BuyerName:   d.BuyerName,
		BuyerPhone:  d.BuyerPhone,
	}
}

type Confirmation struct {
	OrderID     string    `json:"order_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	ConfirmedBy string    `json:"confirmed_by"`
}

// Request/Response models
type IssueRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

type VerifyScanRequest struct {
	QRCode string `json:"qr_code" validate:"required"`
}

type ConfirmDeliveryRequest struct {
	QRCode   string    `json:"qr_code" validate:"required"`
	QRSecret string    `json:"qr_secret"`
	Location *Location `json:"location,omitempty" validate:"omitempty"`
}

// SummaryPage is one page of a buyer's deliveries.
type SummaryPage struct {
	Items    []DeliverySummary `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}
