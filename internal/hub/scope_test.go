package hub

import "testing"

func TestDMScopeOrderIndependent(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
	}{
		{name: "ascending pair", a: 1, b: 2},
		{name: "descending pair", a: 900, b: 7},
		{name: "large snowflakes", a: 7203918472039184, b: 7203918472039185},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forward := DM(tt.a, tt.b)
			backward := DM(tt.b, tt.a)

			if forward != backward {
				t.Errorf("DM(%d, %d) = %v, DM(%d, %d) = %v, expected equal scopes", tt.a, tt.b, forward, tt.b, tt.a, backward)
			}
			if forward.A > forward.B {
				t.Errorf("canonical scope %v is not ordered", forward)
			}
		})
	}
}

func TestScopeKindsDoNotCollide(t *testing.T) {
	if Channel(5) == Server(5) {
		t.Error("channel and server scopes with the same ID must differ")
	}
	if Channel(5) == DM(0, 5) {
		t.Error("channel and dm scopes must differ")
	}
}
