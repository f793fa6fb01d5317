package models

import (
	"encoding/json"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	intp := func(n int) *int { return &n }
	tests := []struct {
		name     string
		req      *QueryRequest
		wantErr  bool
		wantMax  int
		wantText string
	}{
		{"empty query", &QueryRequest{Query: "  "}, true, 0, ""},
		{"default attempts", &QueryRequest{Query: " 统计用户数 "}, false, 3, "统计用户数"},
		{"explicit attempts", &QueryRequest{Query: "x", MaxCorrections: intp(5)}, false, 5, "x"},
		{"zero disables correction", &QueryRequest{Query: "x", MaxCorrections: intp(0)}, false, 0, "x"},
		{"at the limit", &QueryRequest{Query: "x", MaxCorrections: intp(MaxCorrectionsLimit)}, false, MaxCorrectionsLimit, "x"},
		{"above the limit", &QueryRequest{Query: "x", MaxCorrections: intp(50)}, true, 0, ""},
		{"negative", &QueryRequest{Query: "x", MaxCorrections: intp(-1)}, true, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(3)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := tt.req.Attempts(); got != tt.wantMax {
				t.Errorf("Attempts() = %d, want %d", got, tt.wantMax)
			}
			if tt.req.Query != tt.wantText {
				t.Errorf("Query = %q, want %q", tt.req.Query, tt.wantText)
			}
		})
	}
}

func TestQueryRequest_DecodeMaxCorrections(t *testing.T) {
	var unset, zero QueryRequest
	if err := json.Unmarshal([]byte(`{"query":"x"}`), &unset); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"query":"x","max_corrections":0}`), &zero); err != nil {
		t.Fatal(err)
	}
	if unset.MaxCorrections != nil {
		t.Errorf("absent max_corrections decoded as %d", *unset.MaxCorrections)
	}
	if zero.MaxCorrections == nil || *zero.MaxCorrections != 0 {
		t.Errorf("explicit zero was lost: %v", zero.MaxCorrections)
	}
}

func TestTimeRange_IsZero(t *testing.T) {
	if !(TimeRange{}).IsZero() {
		t.Error("empty range should be zero")
	}
	if (TimeRange{ExplicitTime: []string{"2024-03-01"}}).IsZero() {
		t.Error("explicit time should not be zero")
	}
}

func TestWhere_Matches(t *testing.T) {
	meta := DocumentMetadata{Type: DocTypeTable, TableName: "users"}
	if !(Where{}).Matches(meta) {
		t.Error("empty filter matches everything")
	}
	if !(Where{Type: DocTypeTable}).Matches(meta) {
		t.Error("type filter should match")
	}
	if (Where{Type: DocTypeBusiness}).Matches(meta) {
		t.Error("type filter should not match")
	}
	if (Where{TableName: "orders"}).Matches(meta) {
		t.Error("table filter should not match")
	}
}

func TestNewTableEntry(t *testing.T) {
	m := Match{
		ID:       "table_users",
		Content:  "# Table: users",
		Metadata: DocumentMetadata{Type: DocTypeTable, Columns: []string{"id", "City"}},
		Distance: 0.3,
	}
	e := NewTableEntry(m)
	if e.Name != "users" {
		t.Errorf("name from id: got %s", e.Name)
	}
	if !e.HasColumn("city") {
		t.Error("HasColumn should ignore case")
	}
	if e.Distance != 0.3 {
		t.Errorf("distance: got %v", e.Distance)
	}
}

func TestSchemaContext_Table(t *testing.T) {
	ctx := SchemaContext{Tables: []TableEntry{{Name: "users"}, {Name: "orders"}}}
	if got := ctx.TableNames(); len(got) != 2 || got[1] != "orders" {
		t.Errorf("TableNames: got %v", got)
	}
	if _, ok := ctx.Table("USERS"); !ok {
		t.Error("Table lookup should ignore case")
	}
	if _, ok := ctx.Table("products"); ok {
		t.Error("unexpected table")
	}
	r := Relationship{FromTable: "orders", FromColumn: "user_id", ToTable: "users", ToColumn: "id"}
	if r.String() != "orders.user_id -> users.id" {
		t.Errorf("Relationship.String: got %s", r.String())
	}
}
