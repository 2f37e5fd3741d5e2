package sheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func workbook(t *testing.T, rows ...[]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	return buf
}

func TestReadClients_SpanishHeaders(t *testing.T) {
	buf := workbook(t,
		[]any{"Nombre", "Dirección Habitual", "Teléfono", "Correo"},
		[]any{" Ana ", "Calle 1", "3001234567", "ana@example.com"},
		[]any{"", "", "", ""},
		[]any{"Beto", "Carrera 7", "3117654321"},
	)

	clients, err := ReadClients(buf, "clientes.xlsx")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("clients = %+v", clients)
	}
	if c := clients[0]; c.Name != "Ana" || c.UsualAddress != "Calle 1" || c.Phone != "3001234567" || c.Email != "ana@example.com" {
		t.Errorf("first = %+v", c)
	}
	if c := clients[1]; c.Name != "Beto" || c.Email != "" {
		t.Errorf("second = %+v", c)
	}
}

func TestReadClients_EnglishHeaders(t *testing.T) {
	buf := workbook(t,
		[]any{"phone", "name", "address"},
		[]any{"300", "Eva", "Av 3"},
	)
	clients, err := ReadClients(buf, "export.XLSX")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(clients) != 1 || clients[0].Name != "Eva" || clients[0].Phone != "300" {
		t.Errorf("clients = %+v", clients)
	}
}

func TestReadClients_MissingColumn(t *testing.T) {
	buf := workbook(t, []any{"Nombre", "Teléfono"}, []any{"Ana", "300"})
	_, err := ReadClients(buf, "clientes.xlsx")
	if err == nil || !strings.Contains(err.Error(), "address") {
		t.Errorf("expected missing address column, got %v", err)
	}
}

func TestReadClients_UnsupportedOrBroken(t *testing.T) {
	if _, err := ReadClients(strings.NewReader("a,b"), "clients.csv"); err == nil {
		t.Error("csv accepted")
	}
	if _, err := ReadClients(strings.NewReader("not a workbook"), "clients.xlsx"); err == nil {
		t.Error("garbage xlsx accepted")
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Dirección_Habitual", "direccion habitual"},
		{"  TELÉFONO ", "telefono"},
		{"Correo  Electrónico", "correo electronico"},
	}
	for _, tt := range tests {
		if got := normalizeHeader(tt.in); got != tt.want {
			t.Errorf("normalizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
