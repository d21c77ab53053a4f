package table

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestReadCSVInference(t *testing.T) {
	input := strings.Join([]string{
		"id,price,active,joined,city",
		"1,9.99,true,2025-01-02,Lisbon",
		"2,,false,2025-03-04,",
		"3,12.5,true,2025-05-06,Osaka",
	}, "\n")

	tbl, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	if tbl.NumCols() != 5 || tbl.NumRows() != 3 {
		t.Fatalf("expected 5x3 table, got %dx%d", tbl.NumCols(), tbl.NumRows())
	}

	wantTypes := map[string]Type{"id": Int, "price": Float, "active": Bool, "joined": Time, "city": String}
	for name, want := range wantTypes {
		c, ok := tbl.Column(name)
		if !ok {
			t.Fatalf("column %q missing", name)
		}
		if c.Type != want {
			t.Errorf("column %q: inferred %v, want %v", name, c.Type, want)
		}
	}

	price, _ := tbl.Column("price")
	if !price.IsNull(1) || price.IsNull(0) || price.IsNull(2) {
		t.Errorf("null mask wrong for price: %v", price.Null)
	}
	if price.Floats[2] != 12.5 {
		t.Errorf("price[2] = %v, want 12.5", price.Floats[2])
	}

	joined, _ := tbl.Column("joined")
	want := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	if !joined.Times[1].Equal(want) {
		t.Errorf("joined[1] = %v, want %v", joined.Times[1], want)
	}

	city, _ := tbl.Column("city")
	if !city.IsNull(1) {
		t.Error("empty city cell should be null")
	}
}

func TestReadCSVMixedFallsBackToString(t *testing.T) {
	input := "val\n1\ntwo\n3.5\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	c, _ := tbl.Column("val")
	if c.Type != String {
		t.Errorf("mixed column inferred as %v, want string", c.Type)
	}
	if c.Strings[1] != "two" {
		t.Errorf("c.Strings[1] = %q", c.Strings[1])
	}
}

func TestReadCSVEmptyInput(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.NumCols() != 0 || tbl.NumRows() != 0 {
		t.Errorf("expected empty table, got %dx%d", tbl.NumCols(), tbl.NumRows())
	}
}

func TestReadCSVHeaderOnly(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("a,b\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if tbl.NumCols() != 2 || tbl.NumRows() != 0 {
		t.Errorf("expected 2x0 table, got %dx%d", tbl.NumCols(), tbl.NumRows())
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	input := "id,name,score\n1,ada,1.5\n2,,\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	again, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV(rewritten): %v", err)
	}

	assertTablesEqual(t, again, tbl)
}

func TestCSVThroughPayloadCodec(t *testing.T) {
	input := "id,when\n1,2025-01-02T03:04:05Z\n2,2025-06-07T08:09:10Z\n"

	tbl, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	payload, err := Encode(tbl)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	assertTablesEqual(t, got, tbl)
}
