package billing

import "testing"

func TestParseCents(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"0.10", 10},
		{"100.00", 10000},
		{"0.0015", 0},
		{"0.005", 1},
		{"1234.56", 123456},
		{"-1.25", -125},
		{"0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := ParseCents(tt.amount)
			if err != nil {
				t.Fatalf("ParseCents(%q): %v", tt.amount, err)
			}
			if got != tt.want {
				t.Fatalf("ParseCents(%q) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestParseCents_Invalid(t *testing.T) {
	for _, bad := range []string{"", "ten", "1,00"} {
		if _, err := ParseCents(bad); err == nil {
			t.Fatalf("ParseCents(%q) accepted", bad)
		}
	}
}

// Ten additions of $0.10 must come out to exactly $1.00; a running
// float64 sum lands on 0.9999999999999999 instead.
func TestIntegerCentsAvoidFloatDrift(t *testing.T) {
	var cents int64
	var floatSum float64
	for i := 0; i < 10; i++ {
		c, err := ParseCents("0.10")
		if err != nil {
			t.Fatal(err)
		}
		cents += c
		floatSum += 0.10
	}
	if got := centsToDollars(cents); got != 1.00 {
		t.Fatalf("integer path drifted: %v", got)
	}
	if floatSum == 1.00 {
		t.Skip("platform float addition unexpectedly exact")
	}
}
