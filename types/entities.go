package types

import "time"

// Kind names a managed entity type. Its value doubles as the remote
// collection name and as the prefix of the local fallback key.
type Kind string

// Entity kinds and auxiliary collections.
const (
	KindClients       Kind = "clients"
	KindOrders        Kind = "orders"
	KindCouriers      Kind = "couriers"
	KindCourierShifts Kind = "courier_shifts"
	KindDailyClosings Kind = "daily_closings"
	KindSettings      Kind = "settings"
)

// CacheKey is the durable local store key holding the fallback list.
func (k Kind) CacheKey() string {
	return string(k) + "_cache"
}

// Payment and delivery vocabulary stored on orders.
const (
	PaymentCash = "cash"
	PaymentCard = "card"

	PaymentPending = "pending"
	PaymentPaid    = "paid"

	OrderReceived  = "received"
	OrderDelivered = "delivered"

	Unassigned = "Unassigned"
)

// DefaultCompanyName is shown when no settings document exists.
const DefaultCompanyName = "AliadoX"

// Client is a registered customer.
type Client struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	UsualAddress string `json:"usual_address"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	RegisteredOn string `json:"registered_on"`
}

// Order is one delivery order.
type Order struct {
	ID            string   `json:"id"`
	Client        string   `json:"client"`
	Address       string   `json:"address"`
	Phone         string   `json:"phone"`
	Products      []string `json:"products"`
	OrderValue    float64  `json:"order_value"`
	DeliveryCost  float64  `json:"delivery_cost"`
	TotalDue      float64  `json:"total_due"`
	PaymentMethod string   `json:"payment_method"`
	CourierID     string   `json:"courier_id"`
	CourierName   string   `json:"courier_name"`
	PaymentStatus string   `json:"payment_status"`
	Delivered     bool     `json:"delivered"`
	Status        string   `json:"status"`
	Date          string   `json:"date"`
	Timestamp     string   `json:"timestamp"`
	Archived      bool     `json:"archived"`
}

// Courier is a delivery rider.
type Courier struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Vehicle      string `json:"vehicle"`
	Plate        string `json:"plate"`
	Phone        string `json:"phone"`
	Available    bool   `json:"available"`
	RegisteredOn string `json:"registered_on"`
}

// CourierShift summarizes one courier's working day.
type CourierShift struct {
	ID                 string  `json:"id"`
	CourierID          string  `json:"courier_id"`
	Name               string  `json:"name"`
	Date               string  `json:"date"`
	OrdersTotal        float64 `json:"orders_total"`
	DeliveryCostsTotal float64 `json:"delivery_costs_total"`
	Deliveries         int     `json:"deliveries"`
	Timestamp          string  `json:"timestamp"`
}

// DailyClosing is the cash reconciliation recorded at end of day.
type DailyClosing struct {
	ID            string  `json:"id"`
	Day           string  `json:"day"`
	OrdersCount   int     `json:"orders_count"`
	OrdersTotal   float64 `json:"orders_total"`
	DeliveryTotal float64 `json:"delivery_total"`
	CashTotal     float64 `json:"cash_total"`
	CardTotal     float64 `json:"card_total"`
	CreatedAt     string  `json:"created_at"`
	Timestamp     string  `json:"timestamp"`
}

// CompanySettings holds operator-facing branding.
type CompanySettings struct {
	CompanyName string `json:"company_name"`
}

// Field names on the wire.
const (
	FieldRegisteredAt = "registered_at"
	FieldPlacedAt     = "placed_at"
	FieldShiftDate    = "date"
	FieldCreatedAt    = "created_at"
	FieldCourierID    = "courier_id"
	FieldArchived     = "archived"
)

// DecodeClient builds a Client from remote fields.
func DecodeClient(id string, f Fields) Client {
	date, _ := f.DateOf(FieldRegisteredAt, time.Now())
	return Client{
		ID:           id,
		Name:         f.String("name", ""),
		UsualAddress: f.String("usual_address", ""),
		Phone:        f.String("phone", ""),
		Email:        f.String("email", ""),
		RegisteredOn: date,
	}
}

// EncodeClient returns the write-side fields of c. New documents get a
// server-assigned registration time.
func EncodeClient(c Client) Fields {
	return Fields{
		"name":            c.Name,
		"usual_address":   c.UsualAddress,
		"phone":           c.Phone,
		"email":           c.Email,
		FieldRegisteredAt: ServerTimestamp,
	}
}

// DecodeOrder builds an Order from remote fields.
func DecodeOrder(id string, f Fields) Order {
	date, iso := f.DateOf(FieldPlacedAt, time.Now())
	return Order{
		ID:            id,
		Client:        f.String("client", ""),
		Address:       f.String("address", ""),
		Phone:         f.String("phone", ""),
		Products:      f.Strings("products"),
		OrderValue:    f.Number("order_value"),
		DeliveryCost:  f.Number("delivery_cost"),
		TotalDue:      f.Number("total_due"),
		PaymentMethod: f.String("payment_method", PaymentCash),
		CourierID:     f.String(FieldCourierID, ""),
		CourierName:   f.String("courier_name", Unassigned),
		PaymentStatus: f.String("payment_status", PaymentPending),
		Delivered:     f.Bool("delivered", false),
		Status:        f.String("status", OrderReceived),
		Date:          date,
		Timestamp:     iso,
		Archived:      f.Bool(FieldArchived, false),
	}
}

// EncodeOrder returns the write-side fields of o with defaults applied.
func EncodeOrder(o Order) Fields {
	f := Fields{
		"client":         o.Client,
		"address":        o.Address,
		"phone":          o.Phone,
		"products":       append([]string{}, o.Products...),
		"order_value":    o.OrderValue,
		"delivery_cost":  o.DeliveryCost,
		"total_due":      o.TotalDue,
		"payment_method": orDefault(o.PaymentMethod, PaymentCash),
		"courier_name":   orDefault(o.CourierName, Unassigned),
		"payment_status": orDefault(o.PaymentStatus, PaymentPending),
		"delivered":      o.Delivered,
		"status":         orDefault(o.Status, OrderReceived),
		FieldArchived:    o.Archived,
		FieldPlacedAt:    ServerTimestamp,
	}
	if o.CourierID != "" {
		f[FieldCourierID] = o.CourierID
	} else {
		f[FieldCourierID] = nil
	}
	return f
}

// DecodeCourier builds a Courier from remote fields. Availability
// defaults to true.
func DecodeCourier(id string, f Fields) Courier {
	date, _ := f.DateOf(FieldRegisteredAt, time.Now())
	return Courier{
		ID:           id,
		Name:         f.String("name", ""),
		Vehicle:      f.String("vehicle", ""),
		Plate:        f.String("plate", ""),
		Phone:        f.String("phone", ""),
		Available:    f.Bool("available", true),
		RegisteredOn: date,
	}
}

// EncodeCourier returns the write-side fields of c.
func EncodeCourier(c Courier) Fields {
	return Fields{
		"name":            c.Name,
		"vehicle":         c.Vehicle,
		"plate":           c.Plate,
		"phone":           c.Phone,
		"available":       c.Available,
		FieldRegisteredAt: ServerTimestamp,
	}
}

// DecodeCourierShift builds a CourierShift from remote fields.
func DecodeCourierShift(id string, f Fields) CourierShift {
	date, iso := f.DateOf(FieldShiftDate, time.Now())
	return CourierShift{
		ID:                 id,
		CourierID:          f.String(FieldCourierID, ""),
		Name:               f.String("name", ""),
		Date:               date,
		OrdersTotal:        f.Number("orders_total"),
		DeliveryCostsTotal: f.Number("delivery_costs_total"),
		Deliveries:         f.Int("deliveries"),
		Timestamp:          iso,
	}
}

// EncodeCourierShift returns the write-side fields of s.
func EncodeCourierShift(s CourierShift) Fields {
	return Fields{
		FieldCourierID:         s.CourierID,
		"name":                 s.Name,
		FieldShiftDate:         ServerTimestamp,
		"orders_total":         s.OrdersTotal,
		"delivery_costs_total": s.DeliveryCostsTotal,
		"deliveries":           s.Deliveries,
	}
}

// DecodeDailyClosing builds a DailyClosing from remote fields.
func DecodeDailyClosing(id string, f Fields) DailyClosing {
	date, iso := f.DateOf(FieldCreatedAt, time.Now())
	return DailyClosing{
		ID:            id,
		Day:           f.String("day", ""),
		OrdersCount:   f.Int("orders_count"),
		OrdersTotal:   f.Number("orders_total"),
		DeliveryTotal: f.Number("delivery_total"),
		CashTotal:     f.Number("cash_total"),
		CardTotal:     f.Number("card_total"),
		CreatedAt:     date,
		Timestamp:     iso,
	}
}

// EncodeDailyClosing returns the write-side fields of d.
func EncodeDailyClosing(d DailyClosing) Fields {
	return Fields{
		"day":            d.Day,
		"orders_count":   d.OrdersCount,
		"orders_total":   d.OrdersTotal,
		"delivery_total": d.DeliveryTotal,
		"cash_total":     d.CashTotal,
		"card_total":     d.CardTotal,
		FieldCreatedAt:   ServerTimestamp,
	}
}

// DecodeCompanySettings reads the company name, accepting the legacy
// camel-case key.
func DecodeCompanySettings(f Fields) CompanySettings {
	name := f.String("company_name", "")
	if name == "" {
		name = f.String("companyName", DefaultCompanyName)
	}
	return CompanySettings{CompanyName: name}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// EntityID returns the remote document identifier.
func (c Client) EntityID() string { return c.ID }

// EntityID returns the remote document identifier.
func (o Order) EntityID() string { return o.ID }

// EntityID returns the remote document identifier.
func (c Courier) EntityID() string { return c.ID }

// EntityID returns the remote document identifier.
func (s CourierShift) EntityID() string { return s.ID }

// EntityID returns the remote document identifier.
func (d DailyClosing) EntityID() string { return d.ID }
