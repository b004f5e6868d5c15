package call

func caller(x, y int32) bool {
	z := callee(x, y)
	if z == 0xAABB {
		return true
	}
	return false
}

func callee(a int32, b int32) int32 {
	x := a * b
	if x > 10 {
		return x + 1
	}
	return x - 1
}

func fixed() int32 {
	return callee(2, 3)
}
