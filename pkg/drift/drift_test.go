package drift

import "testing"

func TestToInt64(t *testing.T) {
	cases := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{int64(42), 42, false},
		{int32(7), 7, false},
		{float64(1690000000), 1690000000, false},
		{"1690000001", 1690000001, false},
		{"not-a-number", 0, true},
	}
	for _, c := range cases {
		got, err := toInt64(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("toInt64(%v) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if err == nil && got != c.want {
			t.Errorf("toInt64(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}
