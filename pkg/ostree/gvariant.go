package ostree

import (
	"bytes"

	"github.com/pkg/errors"
)

// GVariant serialization, restricted to what commit, dirtree and summary
// records need: tuples, arrays of variable-sized elements, byte strings,
// strings, uint64 and string-valued variants.

var errMalformed = errors.New("malformed gvariant")

type field struct {
	align int
	size  int // fixed size; 0 for variable-sized members
}

var (
	fieldString  = field{align: 1}
	fieldBytes   = field{align: 1}
	fieldUint64  = field{align: 8, size: 8}
	fieldVardict = field{align: 8}
)

func offsetSize(n int) int {
	switch {
	case n == 0:
		return 0
	case n <= 0xff:
		return 1
	case n <= 0xffff:
		return 2
	case uint64(n) <= 0xffffffff:
		return 4
	default:
		return 8
	}
}

func chooseOffsetSize(bodyLen, n int) int {
	if n == 0 {
		return 0
	}
	for _, osz := range []int{1, 2, 4, 8} {
		if offsetSize(bodyLen+n*osz) == osz {
			return osz
		}
	}
	return 8
}

func readOffset(b []byte, osz int) int {
	var v uint64
	for i := osz - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return int(v)
}

func appendOffset(dst []byte, v, osz int) []byte {
	for i := 0; i < osz; i++ {
		dst = append(dst, byte(v>>(8*i)))
	}
	return dst
}

func alignUp(n, a int) int {
	if a <= 1 {
		return n
	}
	return (n + a - 1) &^ (a - 1)
}

func pad(b []byte, a int) []byte {
	for len(b) < alignUp(len(b), a) {
		b = append(b, 0)
	}
	return b
}

// splitTuple slices a serialized tuple into its members.
func splitTuple(b []byte, fields []field) ([][]byte, error) {
	osz := offsetSize(len(b))
	out := make([][]byte, len(fields))
	pos, nOff := 0, 0
	for i, f := range fields {
		start := alignUp(pos, f.align)
		var end int
		switch {
		case f.size > 0:
			end = start + f.size
		case i == len(fields)-1:
			end = len(b) - nOff*osz
		default:
			nOff++
			at := len(b) - nOff*osz
			if at < 0 {
				return nil, errors.Wrap(errMalformed, "tuple frame offsets truncated")
			}
			end = readOffset(b[at:], osz)
		}
		if start > end || end > len(b)-nOff*osz {
			return nil, errors.Wrapf(errMalformed, "tuple member %d out of bounds", i)
		}
		out[i] = b[start:end]
		pos = end
	}
	return out, nil
}

// splitArray slices a serialized array of variable-sized elements.
func splitArray(b []byte, align int) ([][]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	osz := offsetSize(len(b))
	if len(b) < osz {
		return nil, errors.Wrap(errMalformed, "array too short")
	}
	table := readOffset(b[len(b)-osz:], osz)
	if table > len(b) || (len(b)-table)%osz != 0 {
		return nil, errors.Wrap(errMalformed, "array offset table")
	}
	n := (len(b) - table) / osz
	out := make([][]byte, 0, n)
	pos := 0
	for i := 0; i < n; i++ {
		start := alignUp(pos, align)
		end := readOffset(b[table+i*osz:], osz)
		if start > end || end > table {
			return nil, errors.Wrapf(errMalformed, "array element %d out of bounds", i)
		}
		out = append(out, b[start:end])
		pos = end
	}
	return out, nil
}

func parseString(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	if b[len(b)-1] != 0 {
		return "", errors.Wrap(errMalformed, "string not NUL terminated")
	}
	return string(b[:len(b)-1]), nil
}

func parseUint64BE(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// parseVardict decodes an a{sv}, keeping only string-valued entries.
func parseVardict(b []byte) (map[string]string, error) {
	entries, err := splitArray(b, 8)
	if err != nil {
		return nil, errors.Wrap(err, "vardict")
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		kv, err := splitTuple(e, []field{fieldString, {align: 8}})
		if err != nil {
			return nil, errors.Wrap(err, "vardict entry")
		}
		key, err := parseString(kv[0])
		if err != nil {
			return nil, err
		}
		sep := bytes.LastIndexByte(kv[1], 0)
		if sep < 0 {
			return nil, errors.Wrapf(errMalformed, "variant for %q has no type", key)
		}
		if string(kv[1][sep+1:]) != "s" {
			continue
		}
		val, err := parseString(kv[1][:sep])
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

type member struct {
	align int
	fixed bool
	data  []byte
}

func encodeTuple(members []member) []byte {
	var body []byte
	var ends []int
	for i, m := range members {
		body = pad(body, m.align)
		body = append(body, m.data...)
		if !m.fixed && i < len(members)-1 {
			ends = append(ends, len(body))
		}
	}
	osz := chooseOffsetSize(len(body), len(ends))
	for i := len(ends) - 1; i >= 0; i-- {
		body = appendOffset(body, ends[i], osz)
	}
	return body
}

func encodeArray(elems [][]byte, align int) []byte {
	if len(elems) == 0 {
		return nil
	}
	var body []byte
	ends := make([]int, 0, len(elems))
	for _, e := range elems {
		body = pad(body, align)
		body = append(body, e...)
		ends = append(ends, len(body))
	}
	osz := chooseOffsetSize(len(body), len(ends))
	for _, end := range ends {
		body = appendOffset(body, end, osz)
	}
	return body
}

func encodeString(s string) []byte {
	return append([]byte(s), 0)
}

func encodeUint64BE(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func encodeVardict(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	keys := sortedKeys(m)
	elems := make([][]byte, 0, len(keys))
	for _, k := range keys {
		variant := append(encodeString(m[k]), 0, 's')
		elems = append(elems, encodeTuple([]member{
			{align: 1, data: encodeString(k)},
			{align: 8, data: variant},
		}))
	}
	return encodeArray(elems, 8)
}
