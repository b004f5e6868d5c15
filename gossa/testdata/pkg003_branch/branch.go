package branch

func sign(a int8) int8 {
	if a == 0 {
		return 1
	}
	return 0
}

func abs(x int8) int8 {
	y := x
	if x < 0 {
		y = -x
	}
	return y
}

func clearBits(x, mask uint8) uint8 {
	return x &^ mask
}

func sum(n uint8) uint8 {
	var s uint8
	for i := uint8(0); i < n; i++ {
		s += i
	}
	return s
}

func swap(n int8) int8 {
	a, b := int8(1), int8(2)
	for i := int8(0); i < n; i++ {
		a, b = b, a
	}
	return a
}

func shadow(t0 int8) bool {
	if t0 > 5 {
		return true
	}
	return false
}

func pick(_ int8, arg0 int8) int8 {
	return arg0
}
