package llm

import "testing"

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		vendor  string
		items   int
		wantErr bool
	}{
		{"plain", `{"vendor":"Acme","total":"11.00","line_items":[{"description":"x","price":1}]}`, "Acme", 1, false},
		{"fenced", "```json\n{\"vendor\":\"Cafe\",\"line_items\":[]}\n```", "Cafe", 0, false},
		{"empty", "   ", "", 0, false},
		{"garbage", "I could not read this receipt", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ed, err := ParseExtraction(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ed.Vendor.String() != tt.vendor || len(ed.LineItems) != tt.items {
				t.Fatalf("got vendor %q with %d items", ed.Vendor, len(ed.LineItems))
			}
		})
	}
}
