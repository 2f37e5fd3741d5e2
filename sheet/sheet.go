// Package sheet reads client lists from spreadsheets for bulk import.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pithecene-io/despacho/iox"
	"github.com/pithecene-io/despacho/types"
)

// MaxFileBytes bounds an uploaded spreadsheet.
const MaxFileBytes = 20 << 20

// maxXLSRows bounds rows read from a legacy workbook.
const maxXLSRows = 100000

// ErrNoSheet is returned for workbooks without a usable worksheet.
var ErrNoSheet = errors.New("no worksheet found")

// Accepted header spellings per column, already normalized.
var (
	nameHeaders    = []string{"nombre", "name", "cliente", "client", "nombre cliente"}
	addressHeaders = []string{"direccion", "direccion habitual", "address", "usual address", "domicilio"}
	phoneHeaders   = []string{"telefono", "phone", "celular", "movil", "mobile"}
	emailHeaders   = []string{"email", "e-mail", "correo", "correo electronico", "mail"}
)

// ReadClients parses the first worksheet of an .xlsx or .xls file into
// clients. The first row is the header. Name, address and phone columns
// are required; email is optional. Rows with no name, address or phone
// are skipped.
func ReadClients(r io.Reader, filename string) ([]types.Client, error) {
	rows, err := readRows(r, filename)
	if err != nil {
		return nil, err
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		if key := normalizeHeader(h); key != "" {
			if _, dup := header[key]; !dup {
				header[key] = i
			}
		}
	}
	nameIdx, err := column(header, "name", nameHeaders, true)
	if err != nil {
		return nil, err
	}
	addrIdx, err := column(header, "address", addressHeaders, true)
	if err != nil {
		return nil, err
	}
	phoneIdx, err := column(header, "phone", phoneHeaders, true)
	if err != nil {
		return nil, err
	}
	emailIdx, _ := column(header, "email", emailHeaders, false)

	var clients []types.Client
	for _, row := range rows[1:] {
		c := types.Client{
			Name:         cellValue(row, nameIdx),
			UsualAddress: cellValue(row, addrIdx),
			Phone:        cellValue(row, phoneIdx),
			Email:        cellValue(row, emailIdx),
		}
		if c.Name == "" && c.UsualAddress == "" && c.Phone == "" {
			continue
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func column(header map[string]int, label string, names []string, required bool) (int, error) {
	for _, n := range names {
		if idx, ok := header[n]; ok {
			return idx, nil
		}
	}
	if required {
		return -1, fmt.Errorf("missing required column: %s", label)
	}
	return -1, nil
}

func readRows(r io.Reader, filename string) ([][]string, error) {
	data, err := iox.ReadAllLimit(r, MaxFileBytes)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, fmt.Errorf("open xls: %w", err)
		}
		if workbook.NumSheets() == 0 {
			return nil, ErrNoSheet
		}
		rows := workbook.ReadAllCells(maxXLSRows)
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	case ".xlsx", ".xlsm":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer iox.DiscardClose(file)

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, ErrNoSheet
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported spreadsheet type %q", filepath.Ext(filename))
	}
}

// normalizeHeader lowercases h, strips accents and collapses spaces and
// underscores, so "Dirección_Habitual" matches "direccion habitual".
func normalizeHeader(h string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, h)
	if err != nil {
		plain = h
	}
	plain = strings.ReplaceAll(strings.ToLower(plain), "_", " ")
	return strings.Join(strings.Fields(plain), " ")
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
