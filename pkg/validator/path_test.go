package validator

import "testing"

func TestValidatePath(t *testing.T) {
	valid := []string{
		"m/44'/60'/0'/0/0",
		"m/44h/60h/0h",
		"m",
		"M/0/1",
	}
	for _, p := range valid {
		if err := ValidatePath(p); err != nil {
			t.Fatalf("path %q should be valid: %v", p, err)
		}
	}

	invalid := []string{
		"",
		"44'/60'",
		"m/",
		"m//0",
		"m/abc",
		"m/0''",
		"m/2147483648",
		"m/-1",
	}
	for _, p := range invalid {
		if err := ValidatePath(p); err == nil {
			t.Fatalf("path %q should be rejected", p)
		}
	}
}

func TestValidatePaths(t *testing.T) {
	if err := ValidatePaths(nil); err == nil {
		t.Fatal("expected error for empty path list")
	}
	if err := ValidatePaths([]string{"m/44'/60'/0'/0/0", "m/44'/60'/0'/0/1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidatePaths([]string{"m/44'/60'/0'/0/0", "bogus"}); err == nil {
		t.Fatal("expected error for bad entry")
	}
}

func TestDecodeHex(t *testing.T) {
	decoded, err := DecodeHex("0xdeadbeef")
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 4 {
		t.Fatalf("decoded len=%d, want 4", len(decoded))
	}
	if _, err := DecodeHex("f86c"); err != nil {
		t.Fatalf("unprefixed hex should decode: %v", err)
	}
	if err := ValidateHex("0x"); err == nil {
		t.Fatal("expected error for empty hex")
	}
	if err := ValidateHex("zz"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if err := ValidateHex("abc"); err == nil {
		t.Fatal("expected error for odd length hex")
	}
}
