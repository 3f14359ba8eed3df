package testutil

// Split cuts data at the given ascending offsets. Offsets outside (0, len) are ignored.
func Split(data []byte, cuts ...int) [][]byte {
	var chunks [][]byte
	prev := 0
	for _, cut := range cuts {
		if cut <= prev || cut >= len(data) {
			continue
		}
		chunks = append(chunks, data[prev:cut])
		prev = cut
	}
	return append(chunks, data[prev:])
}

// EveryTwoWaySplit returns data cut once at every interior offset
func EveryTwoWaySplit(data []byte) [][][]byte {
	out := make([][][]byte, 0, len(data))
	for i := 1; i < len(data); i++ {
		out = append(out, Split(data, i))
	}
	return out
}

// EveryThreeWaySplit returns data cut twice at every pair of interior offsets
func EveryThreeWaySplit(data []byte) [][][]byte {
	var out [][][]byte
	for i := 1; i < len(data); i++ {
		for j := i + 1; j < len(data); j++ {
			out = append(out, Split(data, i, j))
		}
	}
	return out
}

// Bytewise returns data as one chunk per byte
func Bytewise(data []byte) [][]byte {
	out := make([][]byte, len(data))
	for i := range data {
		out[i] = data[i : i+1]
	}
	return out
}
