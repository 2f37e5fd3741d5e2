package types

import (
	"strings"
	"testing"
	"time"
)

func TestNormalize_CoercesToPrimitives(t *testing.T) {
	ts := time.Date(2026, 2, 7, 15, 4, 5, 0, time.Local)
	in := Fields{
		"name":     "Ana",
		"missing":  nil,
		"placed":   NewTimestamp(ts),
		"meta":     map[string]any{"k": "v"},
		"tags":     []any{"a", NewTimestamp(ts), nil},
		"total":    12.5,
		"paid":     true,
		"deadline": ts,
	}

	out := Normalize(in)

	if out["name"] != "Ana" {
		t.Errorf("name = %v, want Ana", out["name"])
	}
	if out["missing"] != "" {
		t.Errorf("missing = %v, want empty string", out["missing"])
	}
	if out["placed"] != "7/2/2026" {
		t.Errorf("placed = %v, want 7/2/2026", out["placed"])
	}
	if out["deadline"] != "7/2/2026" {
		t.Errorf("deadline = %v, want 7/2/2026", out["deadline"])
	}
	if out["meta"] != `{"k":"v"}` {
		t.Errorf("meta = %v, want JSON text", out["meta"])
	}
	tags, ok := out["tags"].([]any)
	if !ok || len(tags) != 3 {
		t.Fatalf("tags = %#v, want 3-element slice", out["tags"])
	}
	if tags[1] != "7/2/2026" || tags[2] != "" {
		t.Errorf("tags = %#v, want normalized elements", tags)
	}
	if out["total"] != 12.5 || out["paid"] != true {
		t.Errorf("primitives changed: total=%v paid=%v", out["total"], out["paid"])
	}
}

func TestFields_Coercion(t *testing.T) {
	f := Fields{
		"s":     "x",
		"empty": "",
		"n":     float64(3),
		"ns":    "4.5",
		"bad":   "abc",
		"b":     true,
		"one":   1,
	}

	if got := f.String("empty", "def"); got != "def" {
		t.Errorf("String(empty) = %q, want def", got)
	}
	if got := f.String("n", ""); got != "3" {
		t.Errorf("String(n) = %q, want 3", got)
	}
	if got := f.Number("ns"); got != 4.5 {
		t.Errorf("Number(ns) = %v, want 4.5", got)
	}
	if got := f.Number("bad"); got != 0 {
		t.Errorf("Number(bad) = %v, want 0", got)
	}
	if got := f.Bool("missing", true); !got {
		t.Error("Bool(missing, true) = false, want true")
	}
	if got := f.Bool("one", false); !got {
		t.Error("Bool(one) = false, want true")
	}
	if got := f.Strings("s"); got == nil || len(got) != 0 {
		t.Errorf("Strings(non-slice) = %#v, want empty non-nil", got)
	}
}

func TestFields_DateOf(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	date, iso := Fields{"at": NewTimestamp(ts)}.DateOf("at", now)
	if date != FormatDate(ts) {
		t.Errorf("date = %q, want %q", date, FormatDate(ts))
	}
	if iso != "2026-03-01T10:00:00.000Z" {
		t.Errorf("iso = %q", iso)
	}

	date, iso = Fields{}.DateOf("at", now)
	if date != "N/A" {
		t.Errorf("missing date = %q, want N/A", date)
	}
	if iso != FormatISO(now) {
		t.Errorf("missing iso = %q, want now", iso)
	}
}

func TestFields_Resolve(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Fields{"at": ServerTimestamp, "name": "x"}

	out := f.Resolve(now)

	if !IsServerTimestamp(f["at"]) {
		t.Error("Resolve mutated the receiver")
	}
	got, ok := out.TimeOf("at")
	if !ok || !got.Equal(now) {
		t.Errorf("resolved at = %v (%v), want %v", got, ok, now)
	}
}

func TestDecodeOrder_Defaults(t *testing.T) {
	o := DecodeOrder("o1", Fields{"client": "Ana", "products": []any{"pizza", 2.0}})

	if o.ID != "o1" || o.Client != "Ana" {
		t.Errorf("identity fields = %q %q", o.ID, o.Client)
	}
	if o.PaymentMethod != PaymentCash || o.PaymentStatus != PaymentPending {
		t.Errorf("payment defaults = %q %q", o.PaymentMethod, o.PaymentStatus)
	}
	if o.CourierName != Unassigned || o.Status != OrderReceived {
		t.Errorf("courier/status defaults = %q %q", o.CourierName, o.Status)
	}
	if strings.Join(o.Products, ",") != "pizza,2" {
		t.Errorf("products = %v", o.Products)
	}
	if o.Date != "N/A" {
		t.Errorf("date = %q, want N/A", o.Date)
	}
}

func TestEncodeOrder_StampsServerTime(t *testing.T) {
	f := EncodeOrder(Order{Client: "Ana"})
	if !IsServerTimestamp(f[FieldPlacedAt]) {
		t.Errorf("placed_at = %#v, want server timestamp sentinel", f[FieldPlacedAt])
	}
	if f[FieldCourierID] != nil {
		t.Errorf("courier_id = %#v, want nil", f[FieldCourierID])
	}
}

func TestDecodeCourier_AvailableByDefault(t *testing.T) {
	c := DecodeCourier("c1", Fields{"name": "Luis"})
	if !c.Available {
		t.Error("Available = false, want true by default")
	}
}

func TestDecodeCompanySettings(t *testing.T) {
	if got := DecodeCompanySettings(Fields{}).CompanyName; got != DefaultCompanyName {
		t.Errorf("empty settings = %q, want %q", got, DefaultCompanyName)
	}
	if got := DecodeCompanySettings(Fields{"companyName": "Rapido"}).CompanyName; got != "Rapido" {
		t.Errorf("legacy key = %q, want Rapido", got)
	}
}

func TestKind_CacheKey(t *testing.T) {
	if got := KindClients.CacheKey(); got != "clients_cache" {
		t.Errorf("CacheKey = %q", got)
	}
}
