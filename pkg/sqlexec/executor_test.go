package sqlexec

import "testing"

func TestChunkBoundsExactMultiple(t *testing.T) {
	bounds := chunkBounds(25000, 25000)
	if len(bounds) != 1 {
		t.Fatalf("expected 1 chunk for exactly maximum_batch_size items, got %d", len(bounds))
	}
}

func TestChunkBoundsOneOver(t *testing.T) {
	bounds := chunkBounds(25001, 25000)
	if len(bounds) != 2 {
		t.Fatalf("expected 2 chunks for maximum_batch_size+1 items, got %d", len(bounds))
	}
	if bounds[0] != [2]int{0, 25000} || bounds[1] != [2]int{25000, 25001} {
		t.Fatalf("unexpected bounds: %v", bounds)
	}
}

func TestChunkBoundsEmpty(t *testing.T) {
	if bounds := chunkBounds(0, 100); bounds != nil {
		t.Fatalf("expected no chunks for zero items, got %v", bounds)
	}
}

func TestQuoteNullLiteral(t *testing.T) {
	if got := Quote(NullLiteral); got != "NULL" {
		t.Errorf("Quote(NullLiteral) = %q, want NULL", got)
	}
	if got := Quote(nil); got != "NULL" {
		t.Errorf("Quote(nil) = %q, want NULL", got)
	}
}

func TestQuoteEscapesSingleQuote(t *testing.T) {
	if got := Quote("O'Brien"); got != "'O''Brien'" {
		t.Errorf("Quote(%q) = %q, want %q", "O'Brien", got, "'O''Brien'")
	}
}

func TestQuoteBool(t *testing.T) {
	if got := Quote(true); got != "TRUE" {
		t.Errorf("Quote(true) = %q, want TRUE", got)
	}
	if got := Quote(false); got != "FALSE" {
		t.Errorf("Quote(false) = %q, want FALSE", got)
	}
}
