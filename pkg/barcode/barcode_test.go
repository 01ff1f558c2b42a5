package barcode

import "testing"

func TestValidFormat(t *testing.T) {
	cases := map[string]bool{
		"012345678905":  true,
		"0123456789055": true,
		"12345":         false,
		"not-a-upc":     false,
		"":              false,
	}
	for code, want := range cases {
		if got := ValidFormat(code); got != want {
			t.Errorf("ValidFormat(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestCheckDigit(t *testing.T) {
	// 01234567890 -> check digit 5, per the UPC-A algorithm.
	got, ok := CheckDigit("01234567890")
	if !ok {
		t.Fatal("expected CheckDigit to accept an 11-digit payload")
	}
	if got != 5 {
		t.Errorf("CheckDigit(%q) = %d, want 5", "01234567890", got)
	}

	if _, ok := CheckDigit("123"); ok {
		t.Error("expected CheckDigit to reject a non-11-digit payload")
	}
}

func TestValidCheckDigit(t *testing.T) {
	if !ValidCheckDigit("012345678905") {
		t.Error("expected 012345678905 to carry a valid check digit")
	}
	if ValidCheckDigit("012345678901") {
		t.Error("expected 012345678901 to fail check-digit validation")
	}
	// UPC-13 codes have no check-digit step here; format alone gates them.
	if !ValidCheckDigit("0123456789055") {
		t.Error("expected a 13-digit code to pass check-digit validation unconditionally")
	}
}

func TestValidate(t *testing.T) {
	if !Validate("012345678905") {
		t.Error("expected a well-formed UPC-12 with a correct check digit to validate")
	}
	if Validate("012345678901") {
		t.Error("expected a UPC-12 with a wrong check digit to fail validation")
	}
	if Validate("123") {
		t.Error("expected a short code to fail validation")
	}
}

func TestMatches(t *testing.T) {
	if !Matches("012345678905", "012345678905") {
		t.Error("expected identical valid UPCs to match")
	}
	if Matches("012345678905", "999999999999") {
		t.Error("expected different UPCs not to match")
	}
	if Matches("012345678901", "012345678901") {
		t.Error("expected a UPC with an invalid check digit never to match, even against itself")
	}
}
