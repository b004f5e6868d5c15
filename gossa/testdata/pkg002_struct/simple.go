package structs

func simple(b int) bool {
	var t T
	t.A = 5
	t.B = b
	t.C = 7
	t.D = 8

	if int(t.A)+t.B == t.C {
		return true
	}
	return false
}

type T struct {
	A    int8
	B, C int
	D    int32
}
