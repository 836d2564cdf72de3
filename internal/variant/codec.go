package variant

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

func microsToTime(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}

// ValidationError carries the position and expected size of a malformed
// buffer, per spec §4.3.
type ValidationError struct {
	Pos      int
	Expected int
	Msg      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("variant: malformed buffer at %d (expected %d more bytes): %s", e.Pos, e.Expected, e.Msg)
}

func malformed(pos, expected int, msg string) error {
	return &ValidationError{Pos: pos, Expected: expected, Msg: msg}
}

// primitive type ids, packed into the high 6 bits of a primitive header.
const (
	primNull = iota
	primTrue
	primFalse
	primInt8
	primInt16
	primInt32
	primInt64
	primDouble
	primTimestamp
	primBinary
	primLongString
)

const (
	shapePrimitive = 0
	shapeShortStr  = 1
	shapeObject    = 2
	shapeArray     = 3
)

// Encode produces the (metadata, value) byte pair for v, per spec §4.3.
func Encode(v Value) (metadata, value []byte) {
	dict := collectFieldNames(v)
	return encodeMetadata(dict), encodeValue(v, dict)
}

// Decode reconstructs a Value from a (metadata, value) byte pair.
func Decode(metadata, value []byte) (Value, error) {
	dict, err := decodeMetadata(metadata)
	if err != nil {
		return Value{}, err
	}
	v, _, err := decodeValue(value, 0, dict)
	return v, err
}

func collectFieldNames(v Value) []string {
	set := map[string]struct{}{}
	var walk func(Value)
	walk = func(n Value) {
		switch n.Kind {
		case KindObject:
			for k, child := range n.Obj {
				set[k] = struct{}{}
				walk(child)
			}
		case KindArray:
			for _, child := range n.Arr {
				walk(child)
			}
		}
	}
	walk(v)
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func offsetSizeFor(maxOffset int) (size int, code byte) {
	switch {
	case maxOffset <= 0xFF:
		return 1, 0
	case maxOffset <= 0xFFFF:
		return 2, 1
	default:
		return 4, 2
	}
}

func putUint(buf []byte, size int, v uint64) []byte {
	switch size {
	case 1:
		return append(buf, byte(v))
	case 2:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return append(buf, b...)
	default:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return append(buf, b...)
	}
}

func getUint(buf []byte, pos, size int) (uint64, error) {
	if pos+size > len(buf) {
		return 0, malformed(pos, size, "offset/count field")
	}
	switch size {
	case 1:
		return uint64(buf[pos]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[pos : pos+2])), nil
	default:
		return uint64(binary.LittleEndian.Uint32(buf[pos : pos+4])), nil
	}
}

func encodeMetadata(dict []string) []byte {
	total := 0
	for _, s := range dict {
		total += len(s)
	}
	offSize, _ := offsetSizeFor(total)

	buf := []byte{0x01 | (byte(offSize-1) << 6)}
	buf = putUint(buf, offSize, uint64(len(dict)))

	offsets := make([]int, len(dict)+1)
	cur := 0
	for i, s := range dict {
		offsets[i] = cur
		cur += len(s)
	}
	offsets[len(dict)] = cur

	for _, off := range offsets {
		buf = putUint(buf, offSize, uint64(off))
	}
	for _, s := range dict {
		buf = append(buf, s...)
	}
	return buf
}

func decodeMetadata(buf []byte) ([]string, error) {
	if len(buf) < 1 {
		return nil, malformed(0, 1, "metadata header")
	}
	header := buf[0]
	if header&0x3F != 0x01 {
		return nil, malformed(0, 1, "unexpected metadata header")
	}
	offSize := int((header>>6)&0x03) + 1
	pos := 1
	count, err := getUint(buf, pos, offSize)
	if err != nil {
		return nil, err
	}
	pos += offSize
	offsets := make([]int, count+1)
	for i := range offsets {
		o, err := getUint(buf, pos, offSize)
		if err != nil {
			return nil, err
		}
		offsets[i] = int(o)
		pos += offSize
	}
	dataStart := pos
	dict := make([]string, count)
	for i := 0; i < int(count); i++ {
		start := dataStart + offsets[i]
		end := dataStart + offsets[i+1]
		if end > len(buf) || start > end {
			return nil, malformed(start, end-start, "dictionary string")
		}
		dict[i] = string(buf[start:end])
	}
	return dict, nil
}

func dictID(dict []string, name string) int {
	// dict is sorted, so binary search gives the canonical id.
	i := sort.SearchStrings(dict, name)
	if i < len(dict) && dict[i] == name {
		return i
	}
	return -1
}

func encodeValue(v Value, dict []string) []byte {
	switch v.Kind {
	case KindNull:
		return []byte{primNull << 2}
	case KindBool:
		if v.Bool {
			return []byte{primTrue << 2}
		}
		return []byte{primFalse << 2}
	case KindInt8, KindInt16, KindInt32:
		n := v.Int
		if n >= math.MinInt8 && n <= math.MaxInt8 {
			return []byte{primInt8 << 2, byte(int8(n))}
		}
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(int32(n)))
		return append([]byte{primInt32 << 2}, b...)
	case KindInt64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.Int))
		return append([]byte{primInt64 << 2}, b...)
	case KindDouble:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Double))
		return append([]byte{primDouble << 2}, b...)
	case KindTimestamp:
		micros := v.Ts.UnixMicro()
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(micros))
		return append([]byte{primTimestamp << 2}, b...)
	case KindBinary:
		lenB := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenB, uint32(len(v.Bin)))
		out := append([]byte{primBinary << 2}, lenB...)
		return append(out, v.Bin...)
	case KindString:
		if len(v.Str) <= 63 {
			header := byte(len(v.Str)<<2) | shapeShortStr
			return append([]byte{header}, v.Str...)
		}
		lenB := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenB, uint32(len(v.Str)))
		out := append([]byte{primLongString << 2}, lenB...)
		return append(out, v.Str...)
	case KindArray:
		return encodeArray(v.Arr, dict)
	case KindObject:
		return encodeObject(v.Obj, dict)
	default:
		return []byte{primNull << 2}
	}
}

func encodeArray(items []Value, dict []string) []byte {
	children := make([][]byte, len(items))
	total := 0
	for i, it := range items {
		children[i] = encodeValue(it, dict)
		total += len(children[i])
	}
	large := len(items) > 0xFF
	offSize, offCode := offsetSizeFor(total)

	var countW int
	var header byte
	if large {
		header = (1 << 7) | (offCode << 5) | shapeArray
		countW = 4
	} else {
		header = (offCode << 5) | shapeArray
		countW = 1
	}

	buf := []byte{header}
	buf = putUint(buf, countW, uint64(len(items)))

	offsets := make([]int, len(items)+1)
	cur := 0
	for i, c := range children {
		offsets[i] = cur
		cur += len(c)
	}
	offsets[len(items)] = cur
	for _, off := range offsets {
		buf = putUint(buf, offSize, uint64(off))
	}
	for _, c := range children {
		buf = append(buf, c...)
	}
	return buf
}

func encodeObject(obj map[string]Value, dict []string) []byte {
	names := make([]string, 0, len(obj))
	for k := range obj {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		return dictID(dict, names[i]) < dictID(dict, names[j])
	})

	children := make([][]byte, len(names))
	total := 0
	maxFieldID := 0
	for i, name := range names {
		children[i] = encodeValue(obj[name], dict)
		total += len(children[i])
		if id := dictID(dict, name); id > maxFieldID {
			maxFieldID = id
		}
	}
	large := len(names) > 0xFF
	offSize, offCode := offsetSizeFor(total)
	fidSize, fidCode := offsetSizeFor(maxFieldID)

	var countW int
	var header byte
	if large {
		header = (1 << 7) | (offCode << 5) | (fidCode << 3) | shapeObject
		countW = 4
	} else {
		header = (offCode << 5) | (fidCode << 3) | shapeObject
		countW = 1
	}

	buf := []byte{header}
	buf = putUint(buf, countW, uint64(len(names)))
	for _, name := range names {
		buf = putUint(buf, fidSize, uint64(dictID(dict, name)))
	}

	offsets := make([]int, len(names)+1)
	cur := 0
	for i, c := range children {
		offsets[i] = cur
		cur += len(c)
	}
	offsets[len(names)] = cur
	for _, off := range offsets {
		buf = putUint(buf, offSize, uint64(off))
	}
	for _, c := range children {
		buf = append(buf, c...)
	}
	return buf
}

func decodeValue(buf []byte, pos int, dict []string) (Value, int, error) {
	if pos >= len(buf) {
		return Value{}, pos, malformed(pos, 1, "value header")
	}
	header := buf[pos]
	shape := header & 0x03
	switch shape {
	case shapePrimitive:
		return decodePrimitive(buf, pos, header>>2)
	case shapeShortStr:
		n := int(header >> 2)
		start := pos + 1
		if start+n > len(buf) {
			return Value{}, pos, malformed(start, n, "short string payload")
		}
		return String(string(buf[start : start+n])), start + n, nil
	case shapeObject:
		return decodeObject(buf, pos, header, dict)
	default:
		return decodeArray(buf, pos, header, dict)
	}
}

func decodePrimitive(buf []byte, pos int, typeID byte) (Value, int, error) {
	p := pos + 1
	switch typeID {
	case primNull:
		return Null(), p, nil
	case primTrue:
		return Bool(true), p, nil
	case primFalse:
		return Bool(false), p, nil
	case primInt8:
		if p+1 > len(buf) {
			return Value{}, p, malformed(p, 1, "int8")
		}
		return Int32(int32(int8(buf[p]))), p + 1, nil
	case primInt32:
		if p+4 > len(buf) {
			return Value{}, p, malformed(p, 4, "int32")
		}
		return Int32(int32(binary.LittleEndian.Uint32(buf[p : p+4]))), p + 4, nil
	case primInt64:
		if p+8 > len(buf) {
			return Value{}, p, malformed(p, 8, "int64")
		}
		return Int64(int64(binary.LittleEndian.Uint64(buf[p : p+8]))), p + 8, nil
	case primDouble:
		if p+8 > len(buf) {
			return Value{}, p, malformed(p, 8, "double")
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(buf[p : p+8]))), p + 8, nil
	case primTimestamp:
		if p+8 > len(buf) {
			return Value{}, p, malformed(p, 8, "timestamp")
		}
		micros := int64(binary.LittleEndian.Uint64(buf[p : p+8]))
		return Timestamp(microsToTime(micros)), p + 8, nil
	case primBinary:
		if p+4 > len(buf) {
			return Value{}, p, malformed(p, 4, "binary length")
		}
		n := int(binary.LittleEndian.Uint32(buf[p : p+4]))
		p += 4
		if p+n > len(buf) {
			return Value{}, p, malformed(p, n, "binary payload")
		}
		out := make([]byte, n)
		copy(out, buf[p:p+n])
		return Binary(out), p + n, nil
	case primLongString:
		if p+4 > len(buf) {
			return Value{}, p, malformed(p, 4, "long string length")
		}
		n := int(binary.LittleEndian.Uint32(buf[p : p+4]))
		p += 4
		if p+n > len(buf) {
			return Value{}, p, malformed(p, n, "long string payload")
		}
		return String(string(buf[p : p+n])), p + n, nil
	default:
		return Value{}, pos, malformed(pos, 1, "unknown primitive type")
	}
}

func decodeArray(buf []byte, pos int, header byte, dict []string) (Value, int, error) {
	large := header&0x80 != 0
	offCode := (header >> 5) & 0x03
	offSize := map[byte]int{0: 1, 1: 2, 2: 4}[offCode]
	countW := 1
	if large {
		countW = 4
	}
	p := pos + 1
	count, err := getUint(buf, p, countW)
	if err != nil {
		return Value{}, pos, err
	}
	p += countW
	offsets := make([]int, count+1)
	for i := range offsets {
		o, err := getUint(buf, p, offSize)
		if err != nil {
			return Value{}, pos, err
		}
		offsets[i] = int(o)
		p += offSize
	}
	childStart := p
	items := make([]Value, count)
	for i := 0; i < int(count); i++ {
		start := childStart + offsets[i]
		v, _, err := decodeValue(buf, start, dict)
		if err != nil {
			return Value{}, pos, err
		}
		items[i] = v
	}
	end := childStart + offsets[count]
	return Value{Kind: KindArray, Arr: items}, end, nil
}

func decodeObject(buf []byte, pos int, header byte, dict []string) (Value, int, error) {
	large := header&0x80 != 0
	offCode := (header >> 5) & 0x03
	fidCode := (header >> 3) & 0x03
	offSize := map[byte]int{0: 1, 1: 2, 2: 4}[offCode]
	fidSize := map[byte]int{0: 1, 1: 2, 2: 4}[fidCode]
	countW := 1
	if large {
		countW = 4
	}
	p := pos + 1
	count, err := getUint(buf, p, countW)
	if err != nil {
		return Value{}, pos, err
	}
	p += countW

	fieldIDs := make([]int, count)
	for i := range fieldIDs {
		id, err := getUint(buf, p, fidSize)
		if err != nil {
			return Value{}, pos, err
		}
		fieldIDs[i] = int(id)
		p += fidSize
	}

	offsets := make([]int, count+1)
	for i := range offsets {
		o, err := getUint(buf, p, offSize)
		if err != nil {
			return Value{}, pos, err
		}
		offsets[i] = int(o)
		p += offSize
	}

	childStart := p
	obj := make(map[string]Value, count)
	for i := 0; i < int(count); i++ {
		if fieldIDs[i] >= len(dict) {
			return Value{}, pos, malformed(p, 0, "field id out of range")
		}
		start := childStart + offsets[i]
		v, _, err := decodeValue(buf, start, dict)
		if err != nil {
			return Value{}, pos, err
		}
		obj[dict[fieldIDs[i]]] = v
	}
	end := childStart + offsets[count]
	return Value{Kind: KindObject, Obj: obj}, end, nil
}
